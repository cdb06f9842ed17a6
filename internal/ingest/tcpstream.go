package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"aquaguard/internal/config"
	"aquaguard/internal/logging"
	"aquaguard/internal/model"
)

// StartTCPStream accepts newline-delimited readings (JSON, CSV or key=value) from gateways
// that keep a socket open. Each connection gets its own parser so CSV headers do not leak
// between gateways.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) error {
	logger = logging.OrNop(logger)
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		logger.Info("tcp stream ingest disabled")
		return nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		return err
	}
	logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String())
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logger.Warn("tcp stream accept error", "err", err)
				continue
			}
			go handleTCPStreamConn(ctx, conn, cfg, out, logger)
		}
	}()
	return nil
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, cfg *config.Manager, out chan<- model.Reading, logger *slog.Logger) {
	defer conn.Close()
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		r, err := parseReading(parser, scanner.Text(), cfg.Get().Location())
		if err != nil {
			logger.Warn("tcp stream normalize error", "remote", conn.RemoteAddr().String(), "err", err)
			continue
		}
		if r != nil {
			SendNonBlocking(ctx, out, *r, logger)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
