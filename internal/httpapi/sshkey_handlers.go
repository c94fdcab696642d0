package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"pgmon/internal/domain"
	"pgmon/internal/sshkeys"
)

// maxKeyUpload bounds key import bodies. Real keys are a few kilobytes.
const maxKeyUpload = 1 << 20

type generateKeyRequest struct {
	Name        string `json:"name"`
	KeyType     string `json:"key_type"`
	KeySize     int    `json:"key_size"`
	Passphrase  string `json:"passphrase"`
	Description string `json:"description"`
}

type importKeyRequest struct {
	Name        string `json:"name"`
	PrivateKey  string `json:"private_key"`
	Passphrase  string `json:"passphrase"`
	Description string `json:"description"`
}

type updateKeyRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type serverEndpoint struct {
	Name string `json:"name"`
	Host string `json:"host"`
}

// keyServersResponse lists the servers referencing one key.
type keyServersResponse struct {
	KeyName      string           `json:"key_name"`
	ServersCount int              `json:"servers_count"`
	Servers      []serverEndpoint `json:"servers"`
}

// handleListKeys returns the key inventory. Viewers are refused; operators
// see metadata but not the public key material.
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims.Role == domain.UserRoleViewer {
		s.respondError(w, r, wrapForbidden("viewers cannot list ssh keys"))
		return
	}
	keys, err := s.store.SSHKeys().List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if claims.Role != domain.UserRoleAdmin {
		for i := range keys {
			keys[i].PublicKey = ""
		}
	}
	s.respondJSON(w, http.StatusOK, keys)
}

// handleGetKey returns one key with the same role rules as the list.
func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims.Role == domain.UserRoleViewer {
		s.respondError(w, r, wrapForbidden("viewers cannot view ssh keys"))
		return
	}
	key, err := s.store.SSHKeys().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if claims.Role != domain.UserRoleAdmin {
		key.PublicKey = ""
	}
	s.respondJSON(w, http.StatusOK, key)
}

// handleGenerateKey mints a key pair and stores it encrypted.
func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.respondError(w, r, wrapInvalid("key name is required"))
		return
	}
	keyType := domain.KeyType(req.KeyType)
	if req.KeyType == "" {
		keyType = domain.KeyTypeRSA
	}
	if !keyType.IsValid() {
		s.respondError(w, r, fmt.Errorf("%w: %q", domain.ErrInvalidKeyType, req.KeyType))
		return
	}

	material, err := sshkeys.Generate(keyType, req.KeySize, req.Passphrase)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	key, err := s.storeKeyMaterial(r, material, req.Name, req.Description)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.log.Info("ssh key generated",
		"key", key.Name, "type", key.KeyType, "fingerprint", key.Fingerprint, "by", key.CreatedBy)
	s.respondJSON(w, http.StatusOK, key)
}

// handleImportKey stores an existing private key sent as JSON.
func (s *Server) handleImportKey(w http.ResponseWriter, r *http.Request) {
	var req importKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.importKeyMaterial(w, r, req.Name, req.PrivateKey, req.Passphrase, req.Description)
}

// handleImportKeyFile stores a private key uploaded as a multipart file.
// The name falls back to the filename without its .pem or .key suffix.
func (s *Server) handleImportKeyFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxKeyUpload); err != nil {
		s.respondError(w, r, wrapInvalid("multipart form expected"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, wrapInvalid("key file is required"))
		return
	}
	defer file.Close()

	pemData, err := io.ReadAll(io.LimitReader(file, maxKeyUpload))
	if err != nil {
		s.respondError(w, r, wrapInvalid("failed to read key file"))
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = strings.TrimSuffix(strings.TrimSuffix(header.Filename, ".pem"), ".key")
	}
	s.importKeyMaterial(w, r, name, string(pemData), r.FormValue("passphrase"), r.FormValue("description"))
}

// handleUpdateKey renames or re-describes a key. The material itself is
// immutable; replacing a key means importing a new one.
func (s *Server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Name == nil && req.Description == nil {
		s.respondError(w, r, wrapInvalid("no fields to update"))
		return
	}
	if err := s.store.SSHKeys().Update(r.Context(), id, req.Name, req.Description); err != nil {
		s.respondError(w, r, err)
		return
	}
	key, err := s.store.SSHKeys().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, key)
}

// handleDeleteKey removes a key. A key still referenced by servers is
// refused, and the conflict names them.
func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.store.SSHKeys().Delete(r.Context(), id)
	if errors.Is(err, domain.ErrKeyInUse) {
		if names, lookupErr := s.store.SSHKeys().ServersUsing(r.Context(), id); lookupErr == nil && len(names) > 0 {
			err = fmt.Errorf("%w: %s", domain.ErrKeyInUse, strings.Join(names, ", "))
		}
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.log.Info("ssh key deleted", "key_id", id, "by", claimsFrom(r).Username)
	s.respondJSON(w, http.StatusOK, messagePayload{Message: "SSH key deleted"})
}

// handleKeyServers reports which servers authenticate with a key.
func (s *Server) handleKeyServers(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	key, err := s.store.SSHKeys().Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	servers, err := s.store.Servers().List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	endpoints := []serverEndpoint{}
	for i := range servers {
		if servers[i].SSHKeyID == id {
			endpoints = append(endpoints, serverEndpoint{Name: servers[i].Name, Host: servers[i].Host})
		}
	}

	s.respondJSON(w, http.StatusOK, keyServersResponse{
		KeyName:      key.Name,
		ServersCount: len(endpoints),
		Servers:      endpoints,
	})
}

// handleDownloadPublicKey streams the authorized_keys line as a file. Admin
// only: the endpoint exists for provisioning target hosts.
func (s *Server) handleDownloadPublicKey(w http.ResponseWriter, r *http.Request) {
	if claimsFrom(r).Role != domain.UserRoleAdmin {
		s.respondError(w, r, wrapForbidden("admin role required"))
		return
	}
	key, err := s.store.SSHKeys().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	filename := fmt.Sprintf("%s_id_%s.pub", strings.ReplaceAll(key.Name, " ", "_"), key.KeyType)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, key.PublicKey)
}

// importKeyMaterial is the shared tail of the import endpoints: parse,
// refuse known fingerprints, store.
func (s *Server) importKeyMaterial(w http.ResponseWriter, r *http.Request, name, privateKey, passphrase, description string) {
	name = strings.TrimSpace(name)
	if name == "" {
		s.respondError(w, r, wrapInvalid("key name is required"))
		return
	}
	if strings.TrimSpace(privateKey) == "" {
		s.respondError(w, r, wrapInvalid("private key is required"))
		return
	}

	material, err := sshkeys.ParsePrivate(privateKey, passphrase)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if existing, err := s.store.SSHKeys().GetByFingerprint(r.Context(), material.Fingerprint); err == nil {
		s.respondError(w, r, fmt.Errorf("%w: this key is already stored as %q", domain.ErrKeyExists, existing.Name))
		return
	} else if !errors.Is(err, domain.ErrKeyNotFound) {
		s.respondError(w, r, err)
		return
	}

	key, err := s.storeKeyMaterial(r, material, name, description)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.log.Info("ssh key imported",
		"key", key.Name, "fingerprint", key.Fingerprint, "by", key.CreatedBy)
	s.respondJSON(w, http.StatusOK, key)
}

func (s *Server) storeKeyMaterial(r *http.Request, material *sshkeys.Material, name, description string) (*domain.SSHKey, error) {
	key := &domain.SSHKey{
		ID:            uuid.New().String(),
		Name:          name,
		Fingerprint:   material.Fingerprint,
		KeyType:       material.KeyType,
		PublicKey:     material.PublicKey,
		PrivateKey:    material.PrivateKeyPEM,
		HasPassphrase: material.HasPassphrase,
		CreatedBy:     claimsFrom(r).Username,
		Description:   description,
	}
	if err := s.store.SSHKeys().Create(r.Context(), key); err != nil {
		return nil, err
	}
	return key, nil
}
