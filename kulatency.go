package main

import (
	"context"
	"errors"
	"fmt"
	"kulatency/pkg/packet"
	"kulatency/pkg/prof"
	"kulatency/pkg/socket"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

const (
	defaultPort        = 1025
	defaultCount       = 3000
	defaultLogFile     = "ku-latency.log"
	defaultLogCapacity = 100000
	defaultRecvBuffer  = 1 << 20
)

func main() {
	logger := newLogger()
	if err := mainErr(logger); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Error(err)
		os.Exit(1)
	}
}

type Config struct {
	ip          string
	iface       string
	port        int
	count       int64
	verbose     bool
	log         bool
	logFile     string
	logCapacity int
	rcvBuf      int
	profile     string
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000000",
	})
	return l
}

func parseFlags(args []string) (Config, error) {
	var conf Config

	fs := flag.NewFlagSet("kulatency", flag.ContinueOnError)
	fs.SortFlags = false
	fs.StringVarP(&conf.ip, "ip", "i", "", "IPv4 address of the interface to listen on (default all interfaces)")
	fs.StringVarP(&conf.iface, "interface", "e", "", "name of the interface to listen on, e.g. eth0")
	fs.IntVarP(&conf.port, "port", "p", defaultPort, "UDP port of the packets to measure")
	fs.Int64VarP(&conf.count, "count", "n", defaultCount, "stop after N packets (0 runs until interrupted)")
	fs.BoolVarP(&conf.verbose, "verbose", "v", false, "print kernel latency stats for every packet")
	fs.BoolVarP(&conf.log, "log", "l", false, "log (RTP sequence number, kernel latency) for each packet")
	fs.StringVar(&conf.logFile, "log-file", defaultLogFile, "file written at exit when logging")
	fs.IntVar(&conf.logCapacity, "log-capacity", defaultLogCapacity, "maximum number of packets kept for the log")
	fs.IntVar(&conf.rcvBuf, "rcvbuf", defaultRecvBuffer, "socket receive buffer to request (bytes)")
	fs.StringVar(&conf.profile, "profile", "", "write a CPU profile to this directory (needs -tags profile)")

	if err := fs.Parse(args); err != nil {
		return conf, err
	}
	if fs.NArg() > 0 {
		return conf, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if conf.port < 0 || conf.port > 65535 {
		return conf, fmt.Errorf("invalid port %d", conf.port)
	}
	if conf.count < 0 {
		return conf, fmt.Errorf("invalid packet count %d", conf.count)
	}
	if conf.log && conf.logCapacity < 1 {
		return conf, fmt.Errorf("invalid log capacity %d", conf.logCapacity)
	}
	return conf, nil
}

func bindAddr(conf Config) (*net.UDPAddr, error) {
	addr := &net.UDPAddr{Port: conf.port}
	switch {
	case conf.iface != "":
		ip, err := socket.InterfaceAddr(conf.iface)
		if err != nil {
			return nil, err
		}
		addr.IP = ip
	case conf.ip != "":
		ip := net.ParseIP(conf.ip).To4()
		if ip == nil {
			return nil, fmt.Errorf("invalid IPv4 address %q", conf.ip)
		}
		addr.IP = ip
	default:
		addr.IP = net.IPv4zero
	}
	return addr, nil
}

func mainErr(logger *logrus.Logger) error {
	conf, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}
	if conf.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if conf.profile != "" {
		if !prof.ProfileEnabled {
			logger.Warn("profiling requested but not compiled in, rebuild with -tags profile")
		}
		defer prof.StartProfile(conf.profile).Stop()
	}

	addr, err := bindAddr(conf)
	if err != nil {
		return err
	}

	recv, err := packet.Listen(addr, conf.rcvBuf)
	if err != nil {
		return err
	}
	defer recv.Close()

	granted, err := recv.RecvBuffer()
	entry := logger.WithField("granted", granted)
	if err != nil {
		entry.WithError(err).Warnf("could not set receive buffer to %d bytes", conf.rcvBuf)
	} else {
		entry.Debug("receive buffer set")
	}

	if sa, err := recv.LocalAddr(); err == nil {
		logger.Infof("listening on %s", socket.AddrToString(sa))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// a second signal gets the default behaviour, for when no packet arrives to unblock the loop
		<-ctx.Done()
		stop()
	}()

	return NewSession(conf, recv, os.Stdout, logger).Run(ctx)
}
