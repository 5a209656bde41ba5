// Package offers serves the drive-offer catalogue with a Redis cache in
// front of the provider. The cache is best effort: a cold cache plus an
// unreachable provider yields an empty catalogue, never an error.
package offers

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"recharge-core/internal/config"
	"recharge-core/internal/ecare"
	"recharge-core/internal/metrics"
	"recharge-core/internal/telco"
)

const cacheKey = "offers:catalogue"

// Offer is one normalized catalogue entry.
type Offer struct {
	Operator         string  `json:"operator"`
	OperatorName     string  `json:"operatorName"`
	NumberType       string  `json:"numberType"`
	NumberTypeName   string  `json:"numberTypeName"`
	OfferType        string  `json:"offerType"`
	OfferTypeName    string  `json:"offerTypeName"`
	MinutePack       string  `json:"minutePack,omitempty"`
	InternetPack     string  `json:"internetPack,omitempty"`
	SMSPack          string  `json:"smsPack,omitempty"`
	CallratePack     string  `json:"callratePack,omitempty"`
	Validity         string  `json:"validity,omitempty"`
	Amount           float64 `json:"amount"`
	CommissionAmount float64 `json:"commissionAmount"`
}

// Catalogue is the cached snapshot of all active offers.
type Catalogue struct {
	Offers         []Offer        `json:"offers"`
	OperatorCounts map[string]int `json:"operatorCounts"`
	TotalOffers    int            `json:"totalOffers"`
	FetchedAt      time.Time      `json:"fetchedAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

// Filter narrows a catalogue listing. Zero values match everything.
type Filter struct {
	Operator  string
	OfferType string
	MinAmount *float64
	MaxAmount *float64
}

// Provider fetches the raw offer pack.
type Provider interface {
	OfferPack(ctx context.Context) (*ecare.OfferPackResult, error)
}

// Cache is the storage surface for catalogue snapshots.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Service is the cache-aside offer catalogue.
type Service struct {
	provider Provider
	cache    Cache
	settings func() config.Settings
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an offer Service.
func New(provider Provider, cache Cache, settings func() config.Settings, metricRegistry *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		provider: provider,
		cache:    cache,
		settings: settings,
		metrics:  metricRegistry,
		logger:   logger.With("component", "offers"),
		now:      time.Now,
	}
}

// GetOffers returns active offers matching the filter, sorted by amount
// ascending. Served from cache when the snapshot is fresh.
func (s *Service) GetOffers(ctx context.Context, filter Filter) (*Catalogue, error) {
	cat := s.catalogue(ctx)
	return s.applyFilter(cat, filter), nil
}

// SearchOffers finds offers at exactly the given amount, optionally
// narrowed by operator and offer type.
func (s *Service) SearchOffers(ctx context.Context, amount float64, operator, offerType string) (*Catalogue, error) {
	cat := s.catalogue(ctx)
	filtered := s.applyFilter(cat, Filter{
		Operator:  operator,
		OfferType: offerType,
		MinAmount: &amount,
		MaxAmount: &amount,
	})
	return filtered, nil
}

// FindOffer locates the exact catalogue entry backing a drive-offer
// request, or nil when the amount is not quoted for the operator.
func (s *Service) FindOffer(ctx context.Context, operator string, amount float64) *Offer {
	cat := s.catalogue(ctx)
	for i := range cat.Offers {
		if cat.Offers[i].Operator == operator && cat.Offers[i].Amount == amount {
			return &cat.Offers[i]
		}
	}
	return nil
}

// Refresh drops the cached snapshot and refetches from the provider.
func (s *Service) Refresh(ctx context.Context) (*Catalogue, error) {
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		s.logger.Warn("cache invalidate failed", "error", err)
	}
	cat, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, cat)
	return cat, nil
}

// catalogue serves from cache, refetching on miss. Provider failure on a
// cold cache degrades to an empty snapshot that is NOT cached, so the next
// call retries.
func (s *Service) catalogue(ctx context.Context) *Catalogue {
	var cached Catalogue
	found, err := s.cache.GetJSON(ctx, cacheKey, &cached)
	if err != nil {
		s.logger.Warn("offer cache read failed", "error", err)
	}
	if found {
		if s.metrics != nil {
			s.metrics.OfferCacheEvents.WithLabelValues("hit").Inc()
		}
		return &cached
	}
	if s.metrics != nil {
		s.metrics.OfferCacheEvents.WithLabelValues("miss").Inc()
	}

	cat, err := s.fetch(ctx)
	if err != nil {
		s.logger.Error("offer pack fetch failed, serving empty catalogue", "error", err)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("offers").Inc()
		}
		now := s.now()
		return &Catalogue{Offers: []Offer{}, OperatorCounts: map[string]int{}, FetchedAt: now, ExpiresAt: now}
	}
	s.store(ctx, cat)
	return cat
}

func (s *Service) fetch(ctx context.Context) (*Catalogue, error) {
	res, err := s.provider.OfferPack(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ttl := s.settings().OfferCacheTTL
	cat := &Catalogue{
		Offers:         make([]Offer, 0, 64),
		OperatorCounts: make(map[string]int),
		FetchedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}

	for group, raws := range res.Groups {
		code, ok := telco.OfferGroupOperators[strings.ToUpper(group)]
		if !ok {
			s.logger.Warn("unknown offer group", "group", group)
			continue
		}
		for _, raw := range raws {
			if raw.Status != "A" {
				continue
			}
			cat.Offers = append(cat.Offers, normalize(code, raw))
			cat.OperatorCounts[code]++
		}
	}

	sort.SliceStable(cat.Offers, func(i, j int) bool {
		return cat.Offers[i].Amount < cat.Offers[j].Amount
	})
	cat.TotalOffers = len(cat.Offers)

	s.logger.Info("offer catalogue fetched", "total", cat.TotalOffers, "expires_at", cat.ExpiresAt)
	return cat, nil
}

func (s *Service) store(ctx context.Context, cat *Catalogue) {
	ttl := cat.ExpiresAt.Sub(cat.FetchedAt)
	if ttl <= 0 {
		return
	}
	if err := s.cache.SetJSON(ctx, cacheKey, cat, ttl); err != nil {
		s.logger.Warn("offer cache write failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.OfferCacheEvents.WithLabelValues("store").Inc()
	}
}

func (s *Service) applyFilter(cat *Catalogue, filter Filter) *Catalogue {
	out := &Catalogue{
		Offers:         make([]Offer, 0, len(cat.Offers)),
		OperatorCounts: make(map[string]int),
		FetchedAt:      cat.FetchedAt,
		ExpiresAt:      cat.ExpiresAt,
	}
	for _, offer := range cat.Offers {
		if filter.Operator != "" && offer.Operator != filter.Operator {
			continue
		}
		if filter.OfferType != "" && !strings.EqualFold(offer.OfferType, filter.OfferType) {
			continue
		}
		if filter.MinAmount != nil && offer.Amount < *filter.MinAmount {
			continue
		}
		if filter.MaxAmount != nil && offer.Amount > *filter.MaxAmount {
			continue
		}
		out.Offers = append(out.Offers, offer)
		out.OperatorCounts[offer.Operator]++
	}
	out.TotalOffers = len(out.Offers)
	return out
}

func normalize(operatorCode string, raw ecare.RawOffer) Offer {
	return Offer{
		Operator:         operatorCode,
		OperatorName:     telco.OperatorName(operatorCode),
		NumberType:       raw.NumberType,
		NumberTypeName:   telco.NumberTypes[raw.NumberType],
		OfferType:        raw.OfferType,
		OfferTypeName:    telco.OfferTypeName(raw.OfferType),
		MinutePack:       raw.MinutePack,
		InternetPack:     raw.InternetPack,
		SMSPack:          raw.SMSPack,
		CallratePack:     raw.CallratePack,
		Validity:         raw.Validity,
		Amount:           parseAmount(raw.Amount),
		CommissionAmount: parseAmount(raw.CommissionAmount),
	}
}

func parseAmount(val string) float64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(val), ",", "")
	if cleaned == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return parsed
}
