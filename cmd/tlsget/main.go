// Command tlsget fetches a URL path over the engine's TLS client
// session and writes the HTTP response to stdout. It exists to exercise
// the full stack against real servers.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ipxe/people-budrys-ipxe/logging"
	"github.com/ipxe/people-budrys-ipxe/tls"
)

func main() {
	// A missing .env is fine; flags and defaults still apply.
	_ = godotenv.Load()

	host := flag.String("host", logging.GetEnvOrDefault("TLSGET_HOST", ""), "server host name")
	port := flag.Int("port", envInt("TLSGET_PORT", 443), "server port")
	path := flag.String("path", "/", "request path")
	insecure := flag.Bool("insecure", false, "skip certificate verification")
	flag.Parse()

	logger, err := logging.NewFromEnv("tlsget")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *host == "" {
		fmt.Fprintln(os.Stderr, "usage: tlsget -host <name> [-port N] [-path /]")
		os.Exit(2)
	}

	if err := run(logger, *host, *port, *path, *insecure); err != nil {
		logger.Error("request failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, host string, port int, path string, insecure bool) error {
	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("dialing %s:%d: %w", host, port, err)
	}

	session := tls.Client(conn, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: insecure,
		Logger:             logger,
	})
	defer session.Close()

	if err := session.Handshake(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	logger.Info("connected",
		zap.String("session_id", session.ID()),
		zap.Uint16("version", session.Version()))

	request := fmt.Sprintf("GET %s HTTP/1.0\r\nHost: %s\r\nConnection: close\r\n\r\n", path, host)
	if _, err := session.Write([]byte(request)); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}

	if _, err := io.Copy(os.Stdout, session); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return nil
}

func envInt(key string, fallback int) int {
	v := logging.GetEnvOrDefault(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
