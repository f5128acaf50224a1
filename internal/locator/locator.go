// Package locator publishes and resolves the primary's endpoint.
//
// The primary writes an opaque token into the well-known endpoint region and
// listens on a socket named from its display label and that token. Clients
// read the token back and look for the matching socket in the runtime
// directory, so a stale region or a foreign socket never resolves.
package locator

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"padbridge/internal/logging"
	"padbridge/internal/namedobj"
)

const (
	// RegionName is the well-known endpoint publication region.
	RegionName = "endpoint.name"
	// RegionSize is the capacity of the endpoint region in bytes.
	RegionSize = 128

	socketSuffix = ".sock"
	tokenLength  = 12
)

// ErrNoPrimary reports that no primary endpoint could be resolved.
var ErrNoPrimary = errors.New("no running primary")

// Endpoint is a resolved primary.
type Endpoint struct {
	Token string
	Label string
	Path  string
}

// NewToken returns a fresh endpoint token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:tokenLength]
}

// SocketName is the file name a primary with label and token listens on.
func SocketName(label, token string) string {
	return label + "-" + token + socketSuffix
}

// Publisher owns the endpoint region for the primary's lifetime.
type Publisher struct {
	ns     *namedobj.Namespace
	label  string
	logger *slog.Logger

	mu     sync.Mutex
	region *namedobj.Region
	token  string
}

// NewPublisher prepares a publisher; nothing is created until Publish.
func NewPublisher(ns *namedobj.Namespace, label string, logger *slog.Logger) *Publisher {
	return &Publisher{
		ns:     ns,
		label:  label,
		logger: logging.NewComponentLogger(logger, "locator"),
	}
}

// Publish creates the endpoint region, or reuses it when this publisher
// already holds it, and writes token (truncated to RegionSize bytes).
// It fails with namedobj.ErrExists when another process publishes.
func (p *Publisher) Publish(token string) error {
	if token == "" {
		return errors.New("endpoint token is required")
	}
	if err := checkToken(token); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.region == nil {
		region, err := p.ns.CreateNewRegion(RegionName, RegionSize)
		if err != nil {
			return fmt.Errorf("publish endpoint: %w", err)
		}
		p.region = region
	}
	if _, err := p.region.Write([]byte(token)); err != nil {
		return fmt.Errorf("write endpoint token: %w", err)
	}
	p.token = truncate(token, RegionSize)
	p.logger.Debug("endpoint published",
		logging.String("token", p.token),
		logging.String("socket", p.socketPathLocked()))
	return nil
}

// Token returns the published token, or "" before Publish.
func (p *Publisher) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// SocketPath is where the primary must listen for the published token.
func (p *Publisher) SocketPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.socketPathLocked()
}

// socketPathLocked requires p.mu.
func (p *Publisher) socketPathLocked() string {
	if p.token == "" {
		return ""
	}
	return filepath.Join(p.ns.Dir(), SocketName(p.label, p.token))
}

// Close unpublishes the endpoint. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region == nil {
		return nil
	}
	err := p.region.Close()
	p.region = nil
	p.token = ""
	return err
}

// Resolve reads the published token and finds the matching socket for label
// in the namespace directory. Any failure to find a live primary, including
// permission errors on the region, yields ErrNoPrimary.
func Resolve(ns *namedobj.Namespace, label string) (Endpoint, error) {
	token, err := readToken(ns)
	if err != nil {
		return Endpoint{}, err
	}

	want := SocketName(label, token)
	entries, err := os.ReadDir(ns.Dir())
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: list runtime directory: %v", ErrNoPrimary, err)
	}
	for _, entry := range entries {
		if entry.Name() != want || entry.Type()&fs.ModeSocket == 0 {
			continue
		}
		return Endpoint{
			Token: token,
			Label: label,
			Path:  filepath.Join(ns.Dir(), entry.Name()),
		}, nil
	}
	return Endpoint{}, fmt.Errorf("%w: no socket %s for published endpoint", ErrNoPrimary, want)
}

// PublishedToken returns the token in the endpoint region without looking
// for a socket.
func PublishedToken(ns *namedobj.Namespace) (string, error) {
	return readToken(ns)
}

func readToken(ns *namedobj.Namespace) (string, error) {
	region, err := ns.OpenRegion(RegionName)
	if err != nil {
		if errors.Is(err, namedobj.ErrNotFound) || errors.Is(err, namedobj.ErrPermission) {
			return "", fmt.Errorf("%w: %v", ErrNoPrimary, err)
		}
		return "", fmt.Errorf("open endpoint region: %w", err)
	}
	defer region.Close()

	buf := make([]byte, min(region.Size(), RegionSize))
	n, err := region.Read(buf)
	if err != nil {
		return "", fmt.Errorf("read endpoint region: %w", err)
	}
	token := buf[:n]
	if i := bytes.IndexByte(token, 0); i >= 0 {
		token = token[:i]
	}
	if len(token) == 0 {
		return "", fmt.Errorf("%w: endpoint region is empty", ErrNoPrimary)
	}
	return string(token), nil
}

func checkToken(token string) error {
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' {
			continue
		}
		return fmt.Errorf("endpoint token contains invalid byte 0x%02x", c)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
