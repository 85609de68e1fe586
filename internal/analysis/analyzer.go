// Package analysis runs the deferred, higher-latency extraction over a call's
// final transcript: caller name, location, geocode and emergency type.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sjawhar/ghost-dispatch/internal/geocode"
	"github.com/sjawhar/ghost-dispatch/internal/priority"
	"github.com/sjawhar/ghost-dispatch/internal/storage"
)

type Store interface {
	UpdateCall(callID string, u storage.CallUpdate) error
	ClaimAnalysis(callID, transcriptHash string) (bool, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, location string) (geocode.Point, error)
}

// Result summarises what one analysis run wrote.
type Result struct {
	Skipped   bool
	Name      string
	Location  string
	Emergency string
	Geocode   *geocode.Point
	Priority  priority.Level
	// Overrode is set when the emergency type replaced the keyword priority.
	Overrode bool
}

type Analyzer struct {
	store      Store
	cheap      *Extractor
	expensive  *Extractor
	classifier *EmergencyClassifier
	geocoder   Geocoder
}

// New builds an Analyzer. Any collaborator may be nil; its step is skipped.
func New(store Store, cheap, expensive *Extractor, classifier *EmergencyClassifier, geocoder Geocoder) *Analyzer {
	return &Analyzer{
		store:      store,
		cheap:      cheap,
		expensive:  expensive,
		classifier: classifier,
		geocoder:   geocoder,
	}
}

// Normalize lowercases the transcript and strips periods before extraction.
func Normalize(transcript string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.ToLower(transcript), ".", ""))
}

func transcriptHash(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return hex.EncodeToString(sum[:])
}

// Analyze operates on a snapshot; the call session may already be gone.
func (a *Analyzer) Analyze(ctx context.Context, callID, transcript string) (Result, error) {
	text := Normalize(transcript)
	if text == "" {
		return Result{Skipped: true}, nil
	}

	if a.store != nil {
		claimed, err := a.store.ClaimAnalysis(callID, transcriptHash(text))
		if err != nil {
			return Result{}, fmt.Errorf("claim analysis: %w", err)
		}
		if !claimed {
			slog.Info("analysis: transcript already analysed", "call_id", callID)
			return Result{Skipped: true}, nil
		}
	}

	log := slog.With("call_id", callID)
	var res Result

	if a.cheap != nil {
		ent, err := a.cheap.Extract(ctx, text)
		if err != nil {
			log.Warn("analysis: cheap extraction failed", "model", a.cheap.Model(), "error", err)
		}
		res.Name, res.Location = ent.Name, ent.Location
	}
	if a.classifier != nil {
		res.Emergency = a.classifier.Classify(ctx, text)
	}
	res.Geocode = a.locate(ctx, log, res.Location)

	update := storage.CallUpdate{}
	if res.Name != "" {
		update.Name = &res.Name
	}
	if res.Location != "" {
		update.Location = &res.Location
	}
	if res.Geocode != nil {
		update.Geocode = &storage.Geocode{Lat: res.Geocode.Lat, Lng: res.Geocode.Lng}
	}
	if res.Emergency != "" {
		update.Emergency = &res.Emergency
		if level, ok := priority.ForEmergency(res.Emergency); ok {
			res.Priority = level
			res.Overrode = true
			p := level.String()
			update.Priority = &p
		}
	}
	a.write(log, callID, update)

	if a.expensive != nil {
		ent, err := a.expensive.Extract(ctx, text)
		if err != nil {
			log.Warn("analysis: expensive extraction failed", "model", a.expensive.Model(), "error", err)
			return res, nil
		}

		refined := storage.CallUpdate{}
		if ent.Name != "" {
			res.Name = ent.Name
			refined.Name = &res.Name
		}
		if ent.Location != "" && ent.Location != res.Location {
			res.Location = ent.Location
			refined.Location = &res.Location
			if pt := a.locate(ctx, log, ent.Location); pt != nil {
				res.Geocode = pt
				refined.Geocode = &storage.Geocode{Lat: pt.Lat, Lng: pt.Lng}
			}
		}
		a.write(log, callID, refined)
	}

	return res, nil
}

func (a *Analyzer) locate(ctx context.Context, log *slog.Logger, location string) *geocode.Point {
	if a.geocoder == nil || location == "" {
		return nil
	}
	pt, err := a.geocoder.Geocode(ctx, location)
	if err != nil {
		if !errors.Is(err, geocode.ErrNoResults) {
			log.Warn("analysis: geocode failed", "location", location, "error", err)
		}
		return nil
	}
	return &pt
}

func (a *Analyzer) write(log *slog.Logger, callID string, u storage.CallUpdate) {
	if a.store == nil {
		return
	}
	if err := a.store.UpdateCall(callID, u); err != nil {
		log.Warn("analysis: persist failed", "error", err)
	}
}
