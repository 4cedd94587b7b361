package supervisor

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mirrortap/mirrortap/internal/config"
	"github.com/mirrortap/mirrortap/internal/logger"
	"github.com/mirrortap/mirrortap/internal/proxy"
)

// Supervisor launches and stops the external proxy process with the mirror
// addon configured through its environment, and surfaces its readiness.
// Failure to start within the configured timeout is a fatal setup error
// surfaced to the caller, never retried: continuing would produce misleading
// "event not found" failures later.
type Supervisor struct {
	cfg    config.Config
	logger *slog.Logger

	cmd        *exec.Cmd
	pid        int
	outCloser  interface{ Close() error }
	errCloser  interface{ Close() error }
	healthBase string
}

func New(cfg config.Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{cfg: cfg, logger: log}
}

func (s *Supervisor) pidFile() string {
	if s.cfg.Proxy.PIDFile != "" {
		return s.cfg.Proxy.PIDFile
	}
	return filepath.Join(s.cfg.Proxy.LogDir, "mirrortap-proxy.pid")
}

// Start launches the proxy process and waits until it is listening and its
// health endpoint reports ok, bounded by proxy.start_timeout.
func (s *Supervisor) Start() error {
	pc := s.cfg.Proxy
	if proxy.IsListening(pc.Listen) {
		return fmt.Errorf("proxy port %s is already in use", pc.Listen)
	}

	cmdStr := pc.Command
	if cmdStr == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve proxy binary: %w", err)
		}
		cmdStr = exe + " proxy"
	}
	cmd := buildCommand(cmdStr)

	if pc.LogDir != "" {
		if err := os.MkdirAll(pc.LogDir, 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		logCfg := pc.Log
		if logCfg.Dir == "" && logCfg.StdoutPath == "" && logCfg.StderrPath == "" {
			logCfg = logger.Config{Dir: pc.LogDir}
		}
		outW, errW, err := logCfg.Writers("mirrortap-proxy")
		if err != nil {
			return fmt.Errorf("open proxy logs: %w", err)
		}
		s.outCloser, s.errCloser = outW, errW
		cmd.Stdout = outW
		cmd.Stderr = errW
	}

	// The child inherits a sanitized environment plus the addon settings.
	env := sanitizeEnv(os.Environ())
	env = append(env,
		"MIRRORTAP_PROXY_LISTEN="+pc.Listen,
		"MIRRORTAP_PROXY_HEALTH_LISTEN="+pc.HealthListen,
		"MIRRORTAP_MIRROR_ENABLED="+strconv.FormatBool(s.cfg.Mirror.Enabled),
		"MIRRORTAP_MIRROR_TARGET_HOST="+s.cfg.Mirror.TargetHost,
		"MIRRORTAP_MIRROR_TARGET_PATH="+s.cfg.Mirror.TargetPath,
		"MIRRORTAP_MIRROR_COLLECTOR_URL="+s.cfg.Mirror.CollectorURL,
	)
	cmd.Env = env
	setSysProcAttrs(cmd) // own process group so Stop can signal the whole tree

	if err := cmd.Start(); err != nil {
		s.closeLogs()
		return fmt.Errorf("start proxy: %w", err)
	}
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	if pc.LogDir != "" {
		_ = os.WriteFile(s.pidFile(), []byte(strconv.Itoa(s.pid)), 0o600)
	}
	s.healthBase = "http://" + pc.HealthListen
	s.logger.Info("proxy started", "pid", s.pid, "listen", pc.Listen)

	timeout := pc.StartTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if proxy.IsListening(pc.Listen) {
			s.logger.Info("proxy is listening", "addr", pc.Listen, "pid", s.pid)
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}

	// Did not become ready in time: reap it and fail the setup.
	s.kill()
	s.closeLogs()
	return fmt.Errorf("proxy did not start listening on %s within %s", pc.Listen, timeout)
}

// IsHealthy probes the proxy's health endpoint.
func (s *Supervisor) IsHealthy() bool {
	if s.healthBase == "" {
		return false
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(s.healthBase + "/healthz")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	buf := make([]byte, 512)
	n, _ := resp.Body.Read(buf)
	return strings.Contains(string(buf[:n]), `"status":"ok"`)
}

// Stop terminates the proxy process group: graceful signal first, then a
// hard kill if the port is still held. Safe to call when nothing is running.
func (s *Supervisor) Stop() {
	pid := s.pid
	if pid == 0 {
		pid = s.readPID()
	}
	if pid == 0 {
		return
	}
	s.logger.Info("stopping proxy", "pid", pid)
	terminate(pid)
	time.Sleep(500 * time.Millisecond)
	if proxy.IsListening(s.cfg.Proxy.Listen) {
		s.logger.Warn("proxy still holds the port, killing", "pid", pid)
		forceKill(pid)
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_, _ = s.cmd.Process.Wait()
	}
	s.closeLogs()
	_ = os.Remove(s.pidFile())
	s.cmd = nil
	s.pid = 0
}

// PID returns the supervised process id, 0 when not running.
func (s *Supervisor) PID() int { return s.pid }

func (s *Supervisor) kill() {
	if s.cmd != nil && s.cmd.Process != nil {
		forceKill(s.cmd.Process.Pid)
		_, _ = s.cmd.Process.Wait()
	}
	_ = os.Remove(s.pidFile())
	s.cmd = nil
	s.pid = 0
}

func (s *Supervisor) closeLogs() {
	if s.outCloser != nil {
		_ = s.outCloser.Close()
		s.outCloser = nil
	}
	if s.errCloser != nil {
		_ = s.errCloser.Close()
		s.errCloser = nil
	}
}

func (s *Supervisor) readPID() int {
	b, err := os.ReadFile(s.pidFile())
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return n
}
