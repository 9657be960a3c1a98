package rest

import (
	"github.com/stakelight/ledgersync/internal/domain"
	"github.com/stakelight/ledgersync/internal/ledger"
	"github.com/stakelight/ledgersync/internal/optimistic"
)

// Engine is the session surface the observer API exposes
//
//go:generate mockgen -source=engine.go -destination=../../mocks/api_engine.go -package=mocks -mock_names=Engine=MockEngine
type Engine interface {
	Health() domain.ChannelHealth
	Aggregates(dom domain.Domain) domain.AggregateSnapshot
	AdminStats() *domain.AggregateSnapshot
	Store() *ledger.Store
	Buffer() *optimistic.Buffer
	Refresh()
}
