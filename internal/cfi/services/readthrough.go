// Package services implementa los servicios de dominio sobre la API CFI
// (Stock, Facturation, Operation, EtatOperation, Utilisateur).
//
// Todos comparten el mismo patrón read-through: clave de cache por
// (recurso, tenant, filtros), hit sin llamada remota, miss colapsado con
// singleflight, y degradación a lista vacía cuando no hay token.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/cfihub/internal/cache"
	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/metrics"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// filtro ausente
const allSentinel = "all"

// TTLs por recurso: datos volátiles 5 min, referencia 30-60 min.
const (
	TTLStocks     = 300 * time.Second
	TTLInvoices   = 300 * time.Second
	TTLOperations = 300 * time.Second
	TTLEtats      = 1800 * time.Second
	TTLDroits     = 3600 * time.Second
	TTLDivisions  = 3600 * time.Second
)

// Poster es lo que los servicios necesitan del cliente CFI.
type Poster interface {
	Post(ctx context.Context, endpoint string, body any, token string) (json.RawMessage, error)
}

// resource describe un recurso cacheable.
type resource struct {
	name     string
	endpoint string
	ttl      time.Duration
	filters  []string // nombres de filtro admitidos, en orden estable
}

// readThrough es la maquinaria compartida por todos los servicios.
type readThrough struct {
	client Poster
	cache  cache.Client
	sf     singleflight.Group
}

// CacheKey arma "cfi:<resource>:<tenant>:<filtros>". Cada filtro admitido
// aparece siempre (valor o "all") y url.Values.Encode ordena por nombre, así
// que dos sets de filtros distintos nunca colisionan.
func CacheKey(resourceName string, tenantID int, declared []string, filters map[string]string) string {
	v := url.Values{}
	for _, name := range declared {
		val := filters[name]
		if val == "" {
			val = allSentinel
		}
		v.Set(name, val)
	}
	enc := v.Encode()
	if enc == "" {
		enc = allSentinel
	}
	return "cfi:" + resourceName + ":" + strconv.Itoa(tenantID) + ":" + enc
}

// fetch devuelve la lista cruda (ya validada y re-serializada) del recurso.
// Sin token en miss: loguea error y devuelve nil, nil.
func (rt *readThrough) fetch(
	ctx context.Context,
	res resource,
	src token.Source,
	tenantID int,
	filters map[string]string,
	mapFn func(json.RawMessage) (json.RawMessage, error),
) ([]json.RawMessage, error) {
	if tenantID <= 0 {
		return nil, ErrTenantRequired
	}
	key := CacheKey(res.name, tenantID, res.filters, filters)
	log := logger.From(ctx).With(
		logger.Component("cfi.services"),
		logger.Resource(res.name),
		logger.TenantID(tenantID),
	)

	if cached, err := rt.cache.Get(ctx, key); err == nil {
		var items []json.RawMessage
		if err := json.Unmarshal(cached, &items); err == nil {
			metrics.CacheRequestsTotal.WithLabelValues(res.name, "hit").Inc()
			return items, nil
		}
		log.Warn("cached entry undecodable, refetching", logger.Key(key))
	} else if !cache.IsNotFound(err) {
		log.Warn("cache read failed", logger.Key(key), logger.Err(err))
	}
	metrics.CacheRequestsTotal.WithLabelValues(res.name, "miss").Inc()

	var tok string
	if src != nil {
		tok, _ = src.Token()
	}
	if tok == "" {
		log.Error("no CFI token available, returning empty result")
		return nil, nil
	}

	v, err, _ := rt.sf.Do(key, func() (any, error) {
		// otro caller pudo haber llenado la clave mientras esperábamos
		if cached, err := rt.cache.Get(ctx, key); err == nil {
			var items []json.RawMessage
			if json.Unmarshal(cached, &items) == nil {
				return items, nil
			}
		}

		body := map[string]any{"idDivision": tenantID}
		for _, name := range res.filters {
			if val := filters[name]; val != "" {
				body[name] = val
			}
		}

		raw, err := rt.client.Post(ctx, res.endpoint, body, tok)
		if err != nil {
			return nil, err
		}

		elems, err := extractList(raw)
		if err != nil {
			return nil, err
		}

		items := make([]json.RawMessage, 0, len(elems))
		for i, el := range elems {
			mapped, err := mapFn(el)
			if err != nil {
				log.Warn("skipping malformed record", logger.Int("index", i), logger.Err(err))
				continue
			}
			items = append(items, mapped)
		}

		encoded, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		if err := rt.cache.Set(ctx, key, encoded, res.ttl); err != nil {
			log.Warn("cache write failed", logger.Key(key), logger.Err(err))
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]json.RawMessage), nil
}

var (
	// ErrUnexpectedShape indica que la respuesta no contiene una lista.
	ErrUnexpectedShape = errors.New("cfi: response is not a list")
	// ErrTenantRequired: toda llamada de dominio resuelve exactamente un tenant.
	ErrTenantRequired = errors.New("cfi: tenant id required")
)

// extractList acepta un array en la raíz o bajo data/items/result/results.
func extractList(raw json.RawMessage) ([]json.RawMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, ErrUnexpectedShape
	}
	for _, k := range []string{"data", "items", "result", "results"} {
		inner, ok := obj[k]
		if !ok {
			continue
		}
		if string(inner) == "null" {
			return nil, nil
		}
		if err := json.Unmarshal(inner, &arr); err == nil {
			return arr, nil
		}
	}
	return nil, ErrUnexpectedShape
}

type validator interface {
	validate() error
}

// mapper decodifica un elemento en T, lo valida y lo re-serializa.
func mapper[T validator](raw json.RawMessage) (json.RawMessage, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// list ejecuta fetch y decodifica los items en []T.
func list[T validator](
	ctx context.Context,
	rt *readThrough,
	res resource,
	src token.Source,
	tenantID int,
	filters map[string]string,
) ([]T, error) {
	items, err := rt.fetch(ctx, res, src, tenantID, filters, mapper[T])
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		var v T
		if err := json.Unmarshal(it, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func missing(field string) error {
	return fmt.Errorf("missing required field %q", field)
}
