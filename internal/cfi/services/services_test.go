package services

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/cfihub/internal/cache"
	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// fakePoster cuenta llamadas y devuelve un cuerpo fijo por endpoint.
type fakePoster struct {
	calls  atomic.Int32
	bodies map[string]string
	delay  time.Duration
	last   map[string]any
	mu     sync.Mutex
}

func (f *fakePoster) Post(_ context.Context, endpoint string, body any, tok string) (json.RawMessage, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.last, _ = body.(map[string]any)
	f.mu.Unlock()
	return json.RawMessage(f.bodies[endpoint]), nil
}

// clockCache es un cache.Client en memoria con reloj controlable.
type clockCache struct {
	mu   sync.Mutex
	now  time.Time
	data map[string]clockEntry
}

type clockEntry struct {
	v   []byte
	exp time.Time
}

func newClockCache() *clockCache {
	return &clockCache{now: time.Unix(1_700_000_000, 0), data: map[string]clockEntry{}}
}

func (c *clockCache) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *clockCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok || !c.now.Before(e.exp) {
		return nil, cache.ErrNotFound
	}
	return e.v, nil
}

func (c *clockCache) Set(_ context.Context, key string, v []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = clockEntry{v: v, exp: c.now.Add(ttl)}
	return nil
}

func (c *clockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	return nil
}

func (c *clockCache) Ping(context.Context) error                 { return nil }
func (c *clockCache) Close() error                               { return nil }
func (c *clockCache) Stats(context.Context) (cache.Stats, error) { return cache.Stats{}, nil }

func TestCacheKey_UniquePerTuple(t *testing.T) {
	declared := []string{"codeArticle", "depot"}

	a := CacheKey("stocks", 10, declared, map[string]string{"depot": "D1"})
	b := CacheKey("stocks", 10, declared, map[string]string{"codeArticle": "D1"})
	c := CacheKey("stocks", 20, declared, map[string]string{"depot": "D1"})
	d := CacheKey("invoices", 10, declared, map[string]string{"depot": "D1"})
	// valores con separadores no colisionan gracias al url-encoding
	e := CacheKey("stocks", 10, declared, map[string]string{"codeArticle": "x&depot=D1"})

	require.Equal(t, "cfi:stocks:10:codeArticle=all&depot=D1", a)
	keys := map[string]bool{a: true, b: true, c: true, d: true, e: true}
	require.Len(t, keys, 5)

	require.Equal(t, "cfi:operation_states:10:all", CacheKey("operation_states", 10, nil, nil))
}

func TestStockList_CacheHitAndTTLExpiry(t *testing.T) {
	ctx := context.Background()
	poster := &fakePoster{bodies: map[string]string{
		EndpointStocks: `[{"codeArticle":"A1","libelle":"Pomme","quantite":3}]`,
	}}
	cc := newClockCache()
	svc := New(poster, cc)
	src := token.Static("tok")

	first, err := svc.Stock.List(ctx, src, 10, StockFilter{Depot: "D1"})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, "A1", first[0].CodeArticle)
	require.EqualValues(t, 1, poster.calls.Load())
	require.EqualValues(t, 10, poster.last["idDivision"])
	require.Equal(t, "D1", poster.last["depot"])

	// mismo triple dentro del TTL: sin llamada remota
	cc.advance(TTLStocks - time.Second)
	second, err := svc.Stock.List(ctx, src, 10, StockFilter{Depot: "D1"})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, poster.calls.Load())

	// otro filtro: otra clave
	_, err = svc.Stock.List(ctx, src, 10, StockFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 2, poster.calls.Load())

	// vencido: exactamente una llamada más
	cc.advance(2 * time.Second)
	_, err = svc.Stock.List(ctx, src, 10, StockFilter{Depot: "D1"})
	require.NoError(t, err)
	require.EqualValues(t, 3, poster.calls.Load())
	_, err = svc.Stock.List(ctx, src, 10, StockFilter{Depot: "D1"})
	require.NoError(t, err)
	require.EqualValues(t, 3, poster.calls.Load())
}

func TestList_NoTokenReturnsEmptyAndLogsError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core))

	poster := &fakePoster{}
	svc := New(poster, cache.NewMemory(""))

	ops, err := svc.Operation.List(ctx, token.NewContext(nil), 10, OperationFilter{})
	require.NoError(t, err)
	require.Empty(t, ops)
	require.EqualValues(t, 0, poster.calls.Load())

	errs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Message, "no CFI token")
}

func TestList_SkipsMalformedRecords(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core))

	poster := &fakePoster{bodies: map[string]string{
		EndpointFactures: `{"data":[
			{"numero":"F-1","date":"2024-01-02","montantTTC":12.5},
			{"date":"2024-01-03"},
			"garbage",
			{"numero":"F-3","date":"2024-01-04"}
		]}`,
	}}
	svc := New(poster, cache.NewMemory(""))

	invoices, err := svc.Facturation.List(ctx, token.Static("tok"), 10, FactureFilter{})
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	require.Equal(t, "F-1", invoices[0].Numero)
	require.Equal(t, "F-3", invoices[1].Numero)
	require.Equal(t, 2, logs.FilterMessage("skipping malformed record").Len())
}

func TestList_ConcurrentMissesCollapse(t *testing.T) {
	poster := &fakePoster{
		bodies: map[string]string{EndpointEtats: `[{"code":"EC","libelle":"En cours"}]`},
		delay:  50 * time.Millisecond,
	}
	svc := New(poster, cache.NewMemory(""))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			etats, err := svc.EtatOperation.List(context.Background(), token.Static("tok"), 10)
			require.NoError(t, err)
			require.Len(t, etats, 1)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, poster.calls.Load())
}

func TestList_RequiresTenant(t *testing.T) {
	svc := New(&fakePoster{}, cache.NewMemory(""))
	_, err := svc.Stock.List(context.Background(), token.Static("tok"), 0, StockFilter{})
	require.ErrorIs(t, err, ErrTenantRequired)
}

func TestLogin_MapsIdentity(t *testing.T) {
	poster := &fakePoster{bodies: map[string]string{
		EndpointLogin: `{"token":"abc","utilisateur":{"idUtilisateur":7,"login":"jdoe","nom":"Doe","prenom":"Jane","idDivision":10,"nomDivision":"Nord"}}`,
	}}
	svc := New(poster, cache.NewMemory(""))

	res, err := svc.Utilisateur.Login(context.Background(), "jdoe", "secret")
	require.NoError(t, err)
	require.Equal(t, "abc", res.Token)
	require.Equal(t, 7, res.Identity.UserID)
	require.Equal(t, "Jane Doe", res.Identity.Name)
	require.Equal(t, Division{ID: 10, Nom: "Nord"}, res.Division)

	poster.bodies[EndpointLogin] = `{"token":""}`
	_, err = svc.Utilisateur.Login(context.Background(), "jdoe", "secret")
	require.ErrorIs(t, err, ErrInvalidLogin)
}
