package sync

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dirstack/adsync/internal/directory"
	"github.com/dirstack/adsync/internal/store"
)

// MappingKind distinguishes plain text attributes from binary photo
// payloads.
type MappingKind int

const (
	KindText MappingKind = iota
	KindPhoto
)

func (k MappingKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPhoto:
		return "photo"
	default:
		return "unknown"
	}
}

// ParseMappingKind maps a configuration string onto a MappingKind.
// The empty string selects text.
func ParseMappingKind(s string) (MappingKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return KindText, nil
	case "photo":
		return KindPhoto, nil
	default:
		return KindText, directory.NewConfigError("parse_mapping_kind",
			"unknown attribute mapping kind %q", s)
	}
}

// AttributeMapping copies one directory attribute onto one local
// field. Mappings are ordered and resolved once at startup.
type AttributeMapping struct {
	// Attr is the directory attribute, lower-cased.
	Attr string
	// Field is the local field name for text mappings, or the blob
	// path prefix for photo mappings.
	Field string
	Kind  MappingKind
}

// Mapper applies an ordered attribute mapping list to identities.
type Mapper struct {
	mappings []AttributeMapping
	blobs    store.BlobStore
	log      zerolog.Logger
}

func NewMapper(mappings []AttributeMapping, blobs store.BlobStore, log zerolog.Logger) *Mapper {
	return &Mapper{mappings: mappings, blobs: blobs, log: log}
}

// Apply copies mapped attributes from rec onto identity. Text
// mappings land in identity.Fields; photo mappings are written to the
// blob store only when the payload hash differs from the stored one.
// The identity is mutated but not persisted; the caller saves it.
func (m *Mapper) Apply(ctx context.Context, identity *store.LocalIdentity, rec directory.Record) error {
	var failures []error

	for _, mapping := range m.mappings {
		switch mapping.Kind {
		case KindText:
			if identity.Fields == nil {
				identity.Fields = make(map[string]string)
			}
			identity.Fields[mapping.Field] = rec.Str(mapping.Attr)
		case KindPhoto:
			if err := m.applyPhoto(ctx, identity, rec, mapping); err != nil {
				failures = append(failures, fmt.Errorf("photo %s: %w", mapping.Attr, err))
			}
		}
	}

	return errors.Join(failures...)
}

// applyPhoto writes the photo payload through the blob store when its
// hash differs from the last synchronized one. Identical payloads
// short-circuit without touching storage.
func (m *Mapper) applyPhoto(ctx context.Context, identity *store.LocalIdentity, rec directory.Record, mapping AttributeMapping) error {
	payload := []byte(rec.Str(mapping.Attr))
	if len(payload) == 0 {
		return nil
	}
	if m.blobs == nil {
		return directory.NewConfigError("apply_photo", "no blob store configured")
	}

	sum := sha1.Sum(payload)
	if hex.EncodeToString(sum[:]) == identity.PhotoHash {
		return nil
	}

	target := path.Join(mapping.Field, identity.GUID+".jpg")
	hash, err := m.blobs.Put(ctx, target, payload, store.BlobOptions{
		Overwrite: true,
		Public:    true,
	})
	if err != nil {
		return err
	}

	m.log.Debug().
		Str("identity", identity.Username).
		Str("path", target).
		Msg("profile photo updated")
	identity.PhotoHash = hash
	return nil
}
