package garment

import (
	"TryOnServer/config"
	iface "TryOnServer/interface"
	"TryOnServer/logger"
	"fmt"
	"image"
	"os"
	"sync"

	"go.uber.org/zap"
)

const DefaultID = "silhouette"

type Entry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	image  image.Image
}

// Registry holds the garment catalog, the current pick and the two user
// placement parameters. Changes are only seen by the next Snapshot.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	catalog map[string]Entry

	current        string
	img            image.Image
	scale          float64
	verticalOffset float64
}

func NewRegistry() *Registry {
	r := &Registry{catalog: map[string]Entry{}, scale: 1.0}
	r.add(DefaultID, "Noire Silhouette", Silhouette())
	r.current = DefaultID
	r.img = r.catalog[DefaultID].image
	return r
}

// LoadCatalog decodes every configured garment file, keeping its alpha channel.
func (r *Registry) LoadCatalog(entries []config.GarmentEntry) error {
	for _, e := range entries {
		data, err := os.ReadFile(e.Path)
		if err != nil {
			return fmt.Errorf("garment %s: %w", e.ID, err)
		}
		img, err := iface.DecodeImage(data, true)
		if err != nil {
			return fmt.Errorf("garment %s: %w", e.ID, err)
		}
		name := e.Name
		if name == "" {
			name = e.ID
		}
		r.mu.Lock()
		r.add(e.ID, name, img)
		r.mu.Unlock()
		logger.Log().Info("garment loaded", zap.String("id", e.ID), zap.String("path", e.Path))
	}
	return nil
}

func (r *Registry) add(id, name string, img image.Image) {
	if _, ok := r.catalog[id]; !ok {
		r.order = append(r.order, id)
	}
	b := img.Bounds()
	r.catalog[id] = Entry{ID: id, Name: name, Width: b.Dx(), Height: b.Dy(), image: img}
}

func (r *Registry) Catalog() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.catalog[id])
	}
	return out
}

func (r *Registry) SelectGarment(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.catalog[id]
	if !ok {
		return fmt.Errorf("%w: %s", iface.ErrUnknownGarment, id)
	}
	r.current = id
	r.img = e.image
	return nil
}

// SetImage replaces the garment image directly, outside the catalog.
func (r *Registry) SetImage(id string, img image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = id
	r.img = img
}

// SetScale does not validate; negative or zero scales are passed through.
func (r *Registry) SetScale(v float64) {
	r.mu.Lock()
	r.scale = v
	r.mu.Unlock()
}

func (r *Registry) SetVerticalOffset(v float64) {
	r.mu.Lock()
	r.verticalOffset = v
	r.mu.Unlock()
}

func (r *Registry) Snapshot() iface.GarmentParameters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return iface.GarmentParameters{
		GarmentID:      r.current,
		Image:          r.img,
		Scale:          r.scale,
		VerticalOffset: r.verticalOffset,
	}
}
