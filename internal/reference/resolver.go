package reference

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DisplayLookup: внешний сервис display-значений ссылок.
type DisplayLookup interface {
	// DisplayFieldConfig: display-поле для ссылочного поля (table, field); ok=false — не настроено.
	DisplayFieldConfig(ctx context.Context, table, field string) (displayField string, ok bool, err error)
	// ResolveDisplayValue: значение displayField у записи key в targetTable; ok=false — нет значения.
	ResolveDisplayValue(ctx context.Context, targetTable, key, displayField string) (value string, ok bool, err error)
}

// DefaultCacheSize: сколько display-значений держим в памяти.
const DefaultCacheSize = 4096

// DefaultLookupTimeout: потолок на один запрос display-значения.
const DefaultLookupTimeout = 3 * time.Second

type cacheKey struct {
	target, key, displayField string
}

// Resolver разрешает сырые ключи ссылок в человекочитаемые значения.
// Успешные ответы кешируются по (targetTable, key, displayField), ошибки не кешируются.
type Resolver struct {
	svc     DisplayLookup
	cache   *lru.Cache[cacheKey, string]
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewResolver(svc DisplayLookup, size int, log logrus.FieldLogger) *Resolver {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[cacheKey, string](size)
	if err != nil {
		// lru.New падает только на size <= 0
		panic(err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{svc: svc, cache: c, timeout: DefaultLookupTimeout, log: log}
}

// WithTimeout меняет потолок одного запроса.
func (r *Resolver) WithTimeout(d time.Duration) *Resolver {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Display возвращает display-значение ссылки. ok=false: показывать сырой ключ, если
// display-поле не настроено, значения нет или сервис ответил ошибкой.
func (r *Resolver) Display(ctx context.Context, table, field, target, key string) (string, bool) {
	if key == "" || target == "" {
		return "", false
	}
	log := r.log.WithFields(logrus.Fields{"table": table, "field": field, "target": target, "key": key})

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	displayField, ok, err := r.svc.DisplayFieldConfig(ctx, table, field)
	if err != nil {
		log.WithError(err).Debug("display field config lookup failed")
		return "", false
	}
	if !ok {
		return "", false
	}

	ck := cacheKey{target: target, key: key, displayField: displayField}
	if v, hit := r.cache.Get(ck); hit {
		return v, true
	}

	v, found, err := r.svc.ResolveDisplayValue(ctx, target, key, displayField)
	if err != nil {
		log.WithError(errors.Wrap(err, "resolve display value")).Debug("falling back to raw key")
		return "", false
	}
	if !found || v == "" {
		return "", false
	}
	r.cache.Add(ck, v)
	return v, true
}

// Forget сбрасывает кеш для записи, после её изменения.
func (r *Resolver) Forget(target, key string) {
	for _, k := range r.cache.Keys() {
		if k.target == target && k.key == key {
			r.cache.Remove(k)
		}
	}
}

// Purge: полный сброс кеша (перезагрузка схем).
func (r *Resolver) Purge() {
	r.cache.Purge()
}
