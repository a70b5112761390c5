package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// DefaultEndpoint is the public model index consumed when no catalog URL is
// configured.
const DefaultEndpoint = "https://mhub.ai/api/v2/models/detailed"

var droppedEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "mhubd",
	Subsystem: "catalog",
	Name:      "dropped_entries_total",
	Help:      "Catalog entries rejected during refresh for missing required fields",
})

func init() {
	prometheus.MustRegister(droppedEntriesTotal)
}

// Snapshot is an immutable catalog state. It is replaced wholesale on each
// successful refresh and never mutated in place.
type Snapshot struct {
	Models       []types.Model
	RefreshedAt  time.Time
	SourceURL    string
	DroppedCount int
}

// Service fetches and caches the remote model index.
type Service struct {
	endpoint  string
	imageRepo string // repository prefix for image refs, e.g. "mhubai/"
	client    *http.Client
	log       zerolog.Logger

	mu   sync.RWMutex
	snap *Snapshot
}

// Options configures a catalog Service.
type Options struct {
	// Endpoint of the model index; DefaultEndpoint when empty.
	Endpoint string
	// ImageRepo is the registry namespace model images live under.
	ImageRepo string
	// Client used for fetches; a 30s-timeout client when nil.
	Client *http.Client
	Logger zerolog.Logger
}

// New constructs a catalog service with no snapshot loaded.
func New(opts Options) *Service {
	ep := strings.TrimSpace(opts.Endpoint)
	if ep == "" {
		ep = DefaultEndpoint
	}
	repo := opts.ImageRepo
	if repo == "" {
		repo = "mhubai/"
	}
	cli := opts.Client
	if cli == nil {
		cli = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{endpoint: ep, imageRepo: repo, client: cli, log: opts.Logger}
}

// catalogUnreachableError signals a failed refresh; any prior snapshot stays
// usable.
type catalogUnreachableError struct{ msg string }

func (e catalogUnreachableError) Error() string { return "catalog unreachable: " + e.msg }

func ErrCatalogUnreachable(msg string) error { return catalogUnreachableError{msg: msg} }

func IsCatalogUnreachable(err error) bool {
	_, ok := err.(catalogUnreachableError)
	return ok
}

// modelNotFoundError signals an id absent from the current snapshot.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// rawEntry mirrors the index payload. Unknown fields are ignored; the feed
// is untrusted remote input.
type rawEntry struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Label         string     `json:"label"`
	Description   string     `json:"description"`
	Modalities    []string   `json:"modalities"`
	Segmentations []string   `json:"segmentations"`
	Categories    []string   `json:"categories"`
	Cite          string     `json:"cite"`
	Inputs        []rawInput `json:"inputs"`
}

type rawInput struct {
	Format      string `json:"format"`
	Description string `json:"description"`
}

type indexPayload struct {
	Data []json.RawMessage `json:"data"`
}

// Refresh fetches the index and replaces the snapshot. Malformed entries are
// dropped individually with a warning; only transport/decode failures of the
// whole payload fail the refresh.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, ErrCatalogUnreachable(err.Error())
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, ErrCatalogUnreachable(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ErrCatalogUnreachable(fmt.Sprintf("%s: %s", s.endpoint, resp.Status))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, ErrCatalogUnreachable(err.Error())
	}

	var payload indexPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrCatalogUnreachable("invalid index payload: " + err.Error())
	}

	snap := &Snapshot{RefreshedAt: time.Now(), SourceURL: s.endpoint}
	seen := make(map[string]bool, len(payload.Data))
	for i, raw := range payload.Data {
		var entry rawEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			s.log.Warn().Int("index", i).Err(err).Msg("dropping malformed catalog entry")
			snap.DroppedCount++
			droppedEntriesTotal.Inc()
			continue
		}
		model, err := s.toModel(entry)
		if err != nil {
			s.log.Warn().Int("index", i).Str("id", entry.ID).Err(err).Msg("dropping invalid catalog entry")
			snap.DroppedCount++
			droppedEntriesTotal.Inc()
			continue
		}
		if seen[model.ID] {
			s.log.Warn().Str("id", model.ID).Msg("dropping duplicate catalog entry")
			snap.DroppedCount++
			droppedEntriesTotal.Inc()
			continue
		}
		seen[model.ID] = true
		snap.Models = append(snap.Models, model)
	}
	sort.Slice(snap.Models, func(i, j int) bool { return snap.Models[i].ID < snap.Models[j].ID })

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	s.log.Info().Int("models", len(snap.Models)).Int("dropped", snap.DroppedCount).Msg("catalog refreshed")
	return snap, nil
}

// toModel validates a raw entry and derives the image reference.
func (s *Service) toModel(e rawEntry) (types.Model, error) {
	if strings.TrimSpace(e.ID) == "" {
		return types.Model{}, fmt.Errorf("missing id")
	}
	if strings.TrimSpace(e.Name) == "" {
		return types.Model{}, fmt.Errorf("missing name")
	}
	inputs := make([]string, 0, len(e.Inputs))
	singleDicom := len(e.Inputs) == 1
	for _, in := range e.Inputs {
		inputs = append(inputs, in.Description)
		if !strings.EqualFold(in.Format, "dicom") {
			singleDicom = false
		}
	}
	importable := false
	for _, cat := range e.Categories {
		if cat == "Segmentation" || cat == "Prediction" {
			importable = true
		}
	}
	label := e.Label
	if label == "" {
		label = e.Name
	}
	return types.Model{
		ID:              e.ID,
		Name:            e.Name,
		Label:           label,
		Description:     e.Description,
		Modalities:      e.Modalities,
		Categories:      e.Categories,
		Segmentations:   e.Segmentations,
		Inputs:          inputs,
		Cite:            e.Cite,
		Image:           s.imageRepo + e.Name + ":latest",
		DocURL:          "https://mhub.ai/models/" + e.Name,
		InputCompatible: singleDicom && importable,
	}, nil
}

// Snapshot returns the current snapshot, or nil before the first successful
// refresh.
func (s *Service) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Get returns the descriptor for id from the current snapshot.
func (s *Service) Get(id string) (types.Model, error) {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	if snap == nil {
		return types.Model{}, ErrModelNotFound(id)
	}
	for _, m := range snap.Models {
		if m.ID == id {
			return m, nil
		}
	}
	return types.Model{}, ErrModelNotFound(id)
}

// Search returns snapshot models matching query as a case-insensitive
// substring of name, label, description or any modality. An empty query
// matches everything.
func (s *Service) Search(query string) []types.Model {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	if snap == nil {
		return nil
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		out := make([]types.Model, len(snap.Models))
		copy(out, snap.Models)
		return out
	}
	var out []types.Model
	for _, m := range snap.Models {
		if matches(m, q) {
			out = append(out, m)
		}
	}
	return out
}

func matches(m types.Model, q string) bool {
	if strings.Contains(strings.ToLower(m.Name), q) ||
		strings.Contains(strings.ToLower(m.Label), q) ||
		strings.Contains(strings.ToLower(m.Description), q) {
		return true
	}
	for _, mod := range m.Modalities {
		if strings.Contains(strings.ToLower(mod), q) {
			return true
		}
	}
	return false
}
