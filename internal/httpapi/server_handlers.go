package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"pgmon/internal/collector"
	"pgmon/internal/domain"
)

// reachabilityTimeout bounds the TCP pre-check when a server is added.
const reachabilityTimeout = 5 * time.Second

// keyRef summarizes the SSH key a server references.
type keyRef struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
}

// serverView is the API shape of a registry entry: credential booleans
// instead of credentials, plus the live probe fields.
type serverView struct {
	Name           string             `json:"name"`
	Host           string             `json:"host"`
	Port           int                `json:"port"`
	User           string             `json:"user"`
	SSHUser        string             `json:"ssh_user"`
	SSHPort        int                `json:"ssh_port"`
	SSHAuthType    domain.SSHAuthType `json:"ssh_auth_type"`
	SSHKeyID       string             `json:"ssh_key_id,omitempty"`
	SSHKeyInfo     *keyRef            `json:"ssh_key_info"`
	HasPassword    bool               `json:"has_password"`
	HasSSHPassword bool               `json:"has_ssh_password"`
	CreatedAt      time.Time          `json:"created_at"`

	collector.TargetStatus
}

// handleListServers returns every registered server with its live status.
// Probes fan out concurrently; a slow or dead target delays only its own
// entry.
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.Servers().List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	views := make([]serverView, len(servers))
	var wg sync.WaitGroup
	for i := range servers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			views[i] = s.buildServerView(r.Context(), &servers[i])
		}(i)
	}
	wg.Wait()

	s.respondJSON(w, http.StatusOK, views)
}

// handleAddServer validates and registers a new target, then returns its
// first probe.
func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var srv domain.Server
	if err := decodeJSON(r, &srv); err != nil {
		s.respondError(w, r, err)
		return
	}
	applyServerDefaults(&srv)

	if err := s.validateNewServer(r.Context(), &srv); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.store.Servers().Create(r.Context(), &srv); err != nil {
		s.respondError(w, r, err)
		return
	}

	s.log.Info("server added",
		"server", srv.Name, "host", srv.Host, "by", claimsFrom(r).Username)
	s.respondJSON(w, http.StatusOK, s.buildServerView(r.Context(), &srv))
}

// handleUpdateServer applies a partial update. Pools and the status cache
// are dropped when a connection-affecting field changed, so the next read
// authenticates with the new coordinates.
func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	existing, err := s.store.Servers().Get(r.Context(), name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var patch domain.ServerPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := validateServerPatch(&patch); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.store.Servers().Update(r.Context(), name, &patch); err != nil {
		s.respondError(w, r, err)
		return
	}

	if connectionChanged(existing, &patch) {
		s.remote.ClosePools(existing)
	}
	s.coll.InvalidateStatus(existing)

	updated, err := s.store.Servers().Get(r.Context(), name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.log.Info("server updated", "server", name, "by", claimsFrom(r).Username)
	s.respondJSON(w, http.StatusOK, s.buildServerView(r.Context(), updated))
}

// handleDeleteServer removes a target and everything collected from it.
func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	srv, err := s.store.Servers().Get(r.Context(), name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.remote.ClosePools(srv)
	s.coll.InvalidateStatus(srv)

	if err := s.store.Servers().Delete(r.Context(), name); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.store.DeleteServerData(r.Context(), name); err != nil {
		s.log.Error("failed to purge collected data", "server", name, "error", err)
	}

	s.log.Info("server deleted", "server", name, "by", claimsFrom(r).Username)
	s.respondJSON(w, http.StatusOK, messagePayload{Message: fmt.Sprintf("Server %s deleted", name)})
}

// handleTestSSH runs a one-off SSH connectivity check against a target.
func (s *Server) handleTestSSH(w http.ResponseWriter, r *http.Request) {
	srv, err := s.store.Servers().Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.ssh.TestConnection(r.Context(), srv))
}

func (s *Server) buildServerView(ctx context.Context, srv *domain.Server) serverView {
	view := serverView{
		Name:           srv.Name,
		Host:           srv.Host,
		Port:           srv.Port,
		User:           srv.User,
		SSHUser:        srv.SSHUser,
		SSHPort:        srv.SSHPort,
		SSHAuthType:    srv.SSHAuthType,
		SSHKeyID:       srv.SSHKeyID,
		HasPassword:    srv.Password != "",
		HasSSHPassword: srv.SSHPassword != "",
		CreatedAt:      srv.CreatedAt,
	}
	if srv.UsesKey() {
		if key, err := s.store.SSHKeys().Get(ctx, srv.SSHKeyID); err == nil {
			view.SSHKeyInfo = &keyRef{Name: key.Name, Fingerprint: key.Fingerprint}
		} else {
			s.log.Warn("failed to resolve ssh key reference",
				"server", srv.Name, "key_id", srv.SSHKeyID, "error", err)
		}
	}
	view.TargetStatus = *s.coll.TargetStatus(ctx, srv)
	return view
}

func applyServerDefaults(srv *domain.Server) {
	srv.Name = strings.TrimSpace(srv.Name)
	srv.Host = strings.TrimSpace(srv.Host)
	if srv.Port == 0 {
		srv.Port = 5432
	}
	if srv.SSHPort == 0 {
		srv.SSHPort = 22
	}
	if srv.SSHAuthType == "" {
		srv.SSHAuthType = domain.SSHAuthPassword
	}
}

// validateNewServer screens out placeholder names and hosts, verifies a
// referenced key exists, and dials the PostgreSQL port once to catch typos
// before the target enters the registry.
func (s *Server) validateNewServer(ctx context.Context, srv *domain.Server) error {
	name := strings.ToLower(srv.Name)
	if name == "" || name == "test" {
		return domain.ErrInvalidServerName
	}
	host := strings.ToLower(srv.Host)
	if host == "" || host == "test" || host == "localhost" {
		return domain.ErrInvalidHost
	}
	if err := srv.Validate(); err != nil {
		return err
	}

	exists, err := s.store.Servers().Exists(ctx, srv.Name)
	if err != nil {
		return err
	}
	if exists {
		return domain.ErrServerExists
	}

	if srv.UsesKey() {
		if _, err := s.store.SSHKeys().Get(ctx, srv.SSHKeyID); err != nil {
			if errors.Is(err, domain.ErrKeyNotFound) {
				return wrapInvalid("ssh key " + srv.SSHKeyID + " does not exist")
			}
			return err
		}
	}

	if !hostReachable(srv.Host, srv.Port, reachabilityTimeout) {
		return fmt.Errorf("%w: %s:%d is unreachable, check address and port",
			domain.ErrInvalidHost, srv.Host, srv.Port)
	}
	return nil
}

func validateServerPatch(patch *domain.ServerPatch) error {
	if patch.Host != nil {
		host := strings.ToLower(strings.TrimSpace(*patch.Host))
		if host == "" || host == "test" || host == "localhost" {
			return domain.ErrInvalidHost
		}
	}
	if patch.Port != nil && (*patch.Port <= 0 || *patch.Port > 65535) {
		return domain.ErrInvalidHost
	}
	if patch.SSHPort != nil && (*patch.SSHPort <= 0 || *patch.SSHPort > 65535) {
		return domain.ErrInvalidHost
	}
	return nil
}

// connectionChanged reports whether the patch touches anything a pooled
// connection depends on.
func connectionChanged(old *domain.Server, patch *domain.ServerPatch) bool {
	if patch.Host != nil && *patch.Host != old.Host {
		return true
	}
	if patch.Port != nil && *patch.Port != old.Port {
		return true
	}
	if patch.User != nil && *patch.User != old.User {
		return true
	}
	return patch.Password != nil
}

func hostReachable(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
