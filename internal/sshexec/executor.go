// Package sshexec runs short-lived SSH commands on monitored hosts: the
// df probe feeding disk metrics and the connection test behind the
// registry API.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"pgmon/internal/config"
	"pgmon/internal/domain"
	"pgmon/internal/logger"
	"pgmon/internal/metrics"
	"pgmon/internal/sshkeys"
)

// KeySource resolves a stored key id to its decrypted PEM text.
type KeySource interface {
	PrivateKey(ctx context.Context, id string) (string, error)
}

// Usage is one df observation of the filesystem holding a data directory.
type Usage struct {
	FreeBytes  int64 `json:"free_bytes"`
	TotalBytes int64 `json:"total_bytes"`
}

// TestResult reports an SSH connection test in API form.
type TestResult struct {
	Success   bool               `json:"success"`
	Message   string             `json:"message"`
	AuthType  domain.SSHAuthType `json:"auth_type"`
	LatencyMS int64              `json:"latency_ms"`
}

// mountPattern is the allow-list for df arguments. The mount point lands
// in a remote shell command, so anything outside it is refused before a
// connection is attempted.
var mountPattern = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)

type cacheEntry struct {
	usage Usage
	at    time.Time
}

// Executor dials monitored hosts and caches df results per (host, port)
// for a short TTL, so overlapping collectors share one probe.
type Executor struct {
	cfg  config.SSHConfig
	keys KeySource
	log  *logger.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates an executor resolving key-mode credentials through keys.
func New(cfg config.SSHConfig, keys KeySource, log *logger.Logger) *Executor {
	return &Executor{
		cfg:   cfg,
		keys:  keys,
		log:   log.Component("sshexec"),
		cache: make(map[string]cacheEntry),
	}
}

// DiskUsage reports free/total bytes of the filesystem holding dataDir.
// Results are served from cache inside the TTL; the mount point is
// validated before any connection is made.
func (e *Executor) DiskUsage(ctx context.Context, srv *domain.Server, dataDir string) (*Usage, error) {
	mount, err := mountPoint(dataDir)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:%d", srv.Host, srv.SSHPort)
	if usage, ok := e.cached(key); ok {
		return &usage, nil
	}

	client, err := e.dial(ctx, srv)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	out, err := e.run(client, "df -B1 "+mount)
	if err != nil {
		return nil, err
	}

	free, total, err := parseDF(out)
	if err != nil {
		return nil, err
	}

	usage := Usage{FreeBytes: free, TotalBytes: total}
	e.store(key, usage)
	return &usage, nil
}

// TestConnection dials a server and runs a trivial command, reporting the
// outcome rather than returning an error.
func (e *Executor) TestConnection(ctx context.Context, srv *domain.Server) *TestResult {
	result := &TestResult{AuthType: srv.SSHAuthType}

	started := time.Now()
	client, err := e.dial(ctx, srv)
	if err != nil {
		result.Message = err.Error()
		return result
	}
	defer client.Close()

	out, err := e.run(client, "echo ok")
	result.LatencyMS = time.Since(started).Milliseconds()
	if err != nil {
		result.Message = err.Error()
		return result
	}
	if strings.TrimSpace(out) != "ok" {
		result.Message = fmt.Sprintf("unexpected response: %s", strings.TrimSpace(out))
		return result
	}

	result.Success = true
	result.Message = "connection established"
	return result
}

// mountPoint derives the df argument from a PostgreSQL data directory.
// Deployments laid out as <mount>/DB/... report the mount itself.
func mountPoint(dataDir string) (string, error) {
	mount := dataDir
	if i := strings.Index(dataDir, "/DB"); i >= 0 {
		mount = dataDir[:i]
	}
	if mount == "" || !strings.HasPrefix(mount, "/") ||
		strings.Contains(mount, "..") || !mountPattern.MatchString(mount) {
		return "", fmt.Errorf("%w: mount point %q", domain.ErrInvalidInput, mount)
	}
	return mount, nil
}

// parseDF extracts (free, total) from `df -B1` output: size is the second
// column and available the fourth on the first data line.
func parseDF(output string) (free, total int64, err error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return 0, 0, fmt.Errorf("unexpected df output: %q", output)
	}
	cols := strings.Fields(lines[1])
	if len(cols) < 4 {
		return 0, 0, fmt.Errorf("unexpected df columns: %q", lines[1])
	}
	total, err = strconv.ParseInt(cols[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse df total: %w", err)
	}
	free, err = strconv.ParseInt(cols[3], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse df free: %w", err)
	}
	return free, total, nil
}

func (e *Executor) cached(key string) (Usage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.cache[key]
	if !ok || time.Since(entry.at) > e.cfg.CacheTTL {
		return Usage{}, false
	}
	return entry.usage, true
}

func (e *Executor) store(key string, usage Usage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for k, entry := range e.cache {
		if now.Sub(entry.at) > e.cfg.CacheTTL {
			delete(e.cache, k)
		}
	}
	e.cache[key] = cacheEntry{usage: usage, at: now}

	// Hard cap: shed the oldest entries first.
	if max := e.cfg.CacheMaxSize; max > 0 && len(e.cache) > max {
		keys := make([]string, 0, len(e.cache))
		for k := range e.cache {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			return e.cache[keys[i]].at.Before(e.cache[keys[j]].at)
		})
		for _, k := range keys[:len(e.cache)-max] {
			delete(e.cache, k)
		}
	}
	metrics.SSHCacheEntries.Set(float64(len(e.cache)))
}

// dial opens an authenticated SSH client. The context bounds the TCP
// connect; the handshake is bounded by a deadline on the raw connection.
func (e *Executor) dial(ctx context.Context, srv *domain.Server) (*ssh.Client, error) {
	cfg, err := e.clientConfig(ctx, srv)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(srv.Host, strconv.Itoa(srv.SSHPort))
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", addr, err)
	}

	// Without a deadline a half-open link would hang the handshake.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (e *Executor) clientConfig(ctx context.Context, srv *domain.Server) (*ssh.ClientConfig, error) {
	timeout := e.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cfg := &ssh.ClientConfig{
		User:    srv.SSHUser,
		Timeout: timeout,
	}

	switch e.cfg.HostKeyPolicy {
	case config.HostKeyKnownHosts:
		callback, err := knownhosts.New(e.cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		cfg.HostKeyCallback = callback
	default:
		// Auto-accept keeps zero-provisioning enrollment; targets live on
		// operator-controlled networks.
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	if srv.UsesKey() {
		pemText, err := e.keys.PrivateKey(ctx, srv.SSHKeyID)
		if err != nil {
			return nil, fmt.Errorf("failed to load ssh key for %s: %w", srv.Name, err)
		}
		signer, err := sshkeys.Signer(pemText, srv.SSHKeyPassphrase)
		if err != nil {
			return nil, err
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	} else {
		cfg.Auth = []ssh.AuthMethod{ssh.Password(srv.SSHPassword)}
	}

	return cfg, nil
}

// run executes one command in a fresh session and returns stdout. Output
// on stderr fails the command even when the exit status is zero, matching
// how df reports unknown mount points.
func (e *Executor) run(client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(command); err != nil {
		return "", fmt.Errorf("command %q failed: %v (stderr: %s)",
			command, err, strings.TrimSpace(stderr.String()))
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return "", fmt.Errorf("command %q wrote to stderr: %s", command, msg)
	}
	return stdout.String(), nil
}
