package engine

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"projectops/internal/db"
	"projectops/internal/domain"
	"projectops/internal/engine/auth"
	"projectops/internal/events"
	"projectops/internal/repo"
)

func cleanParameter(key, value string) (string, string, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	if key == "" {
		return "", "", ValidationError{Field: "key", Message: "is required"}
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", "", ValidationError{Field: "value", Message: "must be numeric"}
	}
	return key, value, nil
}

// SetParameter stores a numeric parameter value. Events use entity id 0 and
// carry the key in the detail.
func (e Engine) SetParameter(ctx context.Context, actor auth.Principal, key, value string) (domain.Parameter, error) {
	key, value, err := cleanParameter(key, value)
	if err != nil {
		return domain.Parameter{}, err
	}
	p := domain.Parameter{Key: key, Value: value, UpdatedAt: e.timestamp()}
	err = e.withinTx(ctx, "parameter.set", func(ctx context.Context, q db.DBTX) error {
		return e.setParameter(ctx, q, actor, p)
	})
	if err != nil {
		return domain.Parameter{}, err
	}
	e.log(ctx).WithField("key", key).WithField("value", value).Info("parameter updated")
	return p, nil
}

func (e Engine) setParameter(ctx context.Context, q db.DBTX, actor auth.Principal, p domain.Parameter) error {
	detail := map[string]any{"key": p.Key, "value": p.Value}
	prev, err := e.Repo.GetParameter(ctx, q, p.Key)
	switch {
	case err == nil:
		detail["previous"] = prev.Value
	case !errors.Is(err, repo.ErrNotFound):
		return err
	}
	if err := e.Repo.UpsertParameter(ctx, q, p); err != nil {
		return err
	}
	return e.audit(ctx, q, actor, events.KindUpdate, EntityParameters, 0, detail)
}

func (e Engine) ListParameters(ctx context.Context) ([]domain.Parameter, error) {
	return e.Repo.ListParameters(ctx, nil)
}

// ImportParameters writes values in one transaction. Keys already stored are
// kept unless overwrite is set. It returns the number of keys written.
func (e Engine) ImportParameters(ctx context.Context, actor auth.Principal, values map[string]string, overwrite bool) (int, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	written := 0
	err := e.withinTx(ctx, "parameter.import", func(ctx context.Context, q db.DBTX) error {
		for _, k := range keys {
			key, value, err := cleanParameter(k, values[k])
			if err != nil {
				return err
			}
			if !overwrite {
				_, err := e.Repo.GetParameter(ctx, q, key)
				if err == nil {
					continue
				}
				if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
			}
			if err := e.setParameter(ctx, q, actor, domain.Parameter{Key: key, Value: value, UpdatedAt: e.timestamp()}); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}
