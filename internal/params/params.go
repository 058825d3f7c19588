package params

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"projectops/internal/db"
	"projectops/internal/repo"
)

const (
	OverloadProjectsThreshold = "OVERLOAD_PROJECTS_THRESHOLD"
	DeviationAmber            = "DEVIATION_AMBER"
	DeviationRed              = "DEVIATION_RED"
)

const (
	DefaultOverloadProjectsThreshold = 4
	DefaultDeviationAmber            = 0.10
	DefaultDeviationRed              = 0.20
)

// Store reads typed parameters. A missing key or a non-numeric value yields
// the caller's default; errors never propagate.
type Store struct {
	Repo   repo.Repo
	Logger *logrus.Entry
}

func (s Store) raw(ctx context.Context, q db.DBTX, key string) (string, bool) {
	p, err := s.Repo.GetParameter(ctx, q, key)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			s.warn(key, "parameter lookup failed", err)
		}
		return "", false
	}
	return strings.TrimSpace(p.Value), true
}

// Int returns the integer value of key, or def. Whole-number floats such as
// "4.0" are accepted; fractional, non-finite or out of range values are not.
func (s Store) Int(ctx context.Context, q db.DBTX, key string, def int) int {
	v, ok := s.raw(ctx, q, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err == nil {
		return n
	}
	f, ferr := strconv.ParseFloat(v, 64)
	if ferr != nil {
		s.warn(key, "parameter is not an integer", err)
		return def
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		s.warn(key, "parameter is not an integer", fmt.Errorf("value %q", v))
		return def
	}
	return int(f)
}

// Float returns the float value of key, or def.
func (s Store) Float(ctx context.Context, q db.DBTX, key string, def float64) float64 {
	v, ok := s.raw(ctx, q, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		s.warn(key, "parameter is not a number", err)
		return def
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		s.warn(key, "parameter is not finite", fmt.Errorf("value %q", v))
		return def
	}
	return f
}

func (s Store) warn(key, msg string, err error) {
	if s.Logger == nil {
		return
	}
	s.Logger.WithField("key", key).WithError(err).Warn(msg)
}
