package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"jpyc-onchain-lab/internal/blacklist"
	"jpyc-onchain-lab/internal/chain"
	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/explorer"
	"jpyc-onchain-lab/internal/fallback"
	"jpyc-onchain-lab/internal/moralis"
	"jpyc-onchain-lab/internal/observability"
	"jpyc-onchain-lab/internal/parallel"
	"jpyc-onchain-lab/internal/retry"
)

// ErrNoSupplyData is returned when no chain produced a total supply.
var ErrNoSupplyData = errors.New("no supply data from any chain")

// ErrNoReferenceContract is returned when the reference chain has no
// configured contract.
var ErrNoReferenceContract = errors.New("no contract configured on reference chain")

// RPC reads token state from chain nodes. Implemented by *chain.Gateway.
type RPC interface {
	TotalSupply(ctx context.Context, c domain.Chain, contract string) (*big.Int, error)
	Decimals(ctx context.Context, c domain.Chain, contract string) (uint8, error)
	BalanceOf(ctx context.Context, c domain.Chain, contract, holder string) (*big.Int, error)
}

// Explorer is a per-chain block explorer. Implemented by *explorer.Client.
type Explorer interface {
	HasKey() bool
	TokenSupply(ctx context.Context, contract string) (*big.Int, error)
	TokenHolderCount(ctx context.Context, contract string) (int64, error)
	TokenBalance(ctx context.Context, contract, address string) (*big.Int, error)
}

// HolderIndex reports holder counts. Implemented by *moralis.Client.
type HolderIndex interface {
	HasKey() bool
	HolderSummary(ctx context.Context, chainID, contract string) (moralis.Summary, error)
}

var (
	_ RPC         = (*chain.Gateway)(nil)
	_ Explorer    = (*explorer.Client)(nil)
	_ HolderIndex = (*moralis.Client)(nil)
)

// Options for creating Engine.
type Options struct {
	// Required
	RPC RPC

	// Optional sources
	Explorers map[domain.Chain]Explorer
	Index     HolderIndex

	// Nil Contracts or Holders use the defaults from domain.
	Contracts []domain.ContractAddress
	Holders   []domain.HolderAccount
	Blacklist blacklist.Set

	RetryConfig     *retry.Config
	ParallelOptions parallel.Options
	ReferenceChain  domain.Chain // defaults to Ethereum

	Logger   *log.Logger
	Recorder *observability.Recorder
	Now      func() time.Time
}

// Engine produces OnChainState snapshots from the configured sources.
type Engine struct {
	rpc       RPC
	explorers map[domain.Chain]Explorer
	index     HolderIndex
	contracts []domain.ContractAddress
	holders   []domain.HolderAccount
	blacklist blacklist.Set
	retryCfg  retry.Config
	popts     parallel.Options
	reference domain.Chain
	logger    *log.Logger
	recorder  *observability.Recorder
	now       func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		rpc:       opts.RPC,
		explorers: opts.Explorers,
		index:     opts.Index,
		contracts: opts.Contracts,
		holders:   opts.Holders,
		blacklist: opts.Blacklist,
		retryCfg:  retry.DefaultConfig(),
		popts:     opts.ParallelOptions,
		reference: opts.ReferenceChain,
		logger:    opts.Logger,
		recorder:  opts.Recorder,
		now:       opts.Now,
	}
	if opts.RetryConfig != nil {
		e.retryCfg = *opts.RetryConfig
	}
	if e.contracts == nil {
		e.contracts = domain.DefaultContracts()
	}
	if e.holders == nil {
		e.holders = domain.DefaultHolderAccounts()
	}
	if e.reference == "" {
		e.reference = domain.ChainEthereum
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Fetch runs one aggregation cycle. A chain whose sources all fail
// contributes zero and is listed in DegradedChains. Fetch fails only when
// decimals cannot be read or no chain returned a supply.
func (e *Engine) Fetch(ctx context.Context) (*domain.OnChainState, error) {
	start := time.Now()
	state, err := e.fetch(ctx)
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case len(state.DegradedChains) > 0:
		status = "degraded"
	}
	observability.RecordFetchCycle(status, time.Since(start).Seconds())
	return state, err
}

func (e *Engine) fetch(ctx context.Context) (*domain.OnChainState, error) {
	ref, ok := e.contractFor(e.reference)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoReferenceContract, e.reference)
	}
	dec, err := observability.Measure(ctx, e.recorder, "decimals", retried(e.retryCfg, "decimals", func(ctx context.Context) (uint8, error) {
		return e.rpc.Decimals(ctx, ref.Chain, ref.Address)
	}), map[string]string{"chain": ref.Chain.String()})
	if err != nil {
		return nil, fmt.Errorf("fetch decimals from %s: %w", ref.Chain, err)
	}
	decimals := int(dec)

	chains := e.chains()
	degraded := make(map[domain.Chain]bool)

	raw, err := e.fetchSupplies(ctx, chains, degraded)
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, c := range chains {
		total.Add(total, raw[c])
	}

	direct := e.fetchBlacklistBalances(ctx, chains)

	holders := e.fetchHolders(ctx, decimals, total)
	tracked := make(map[domain.Chain]*big.Int)
	for _, c := range chains {
		tracked[c] = CalculateBlacklistedSupply(holdersOn(holders, c), e.blacklist)
	}
	ranked := RankHolders(FilterBlacklistedHolders(holders, e.blacklist))

	counts, totalCount, totalChange := e.fetchHolderCounts(ctx, chains)

	blacklisted := new(big.Int)
	effective := make(map[domain.Chain]*big.Int, len(chains))
	for _, c := range chains {
		if v, ok := direct[c]; ok {
			effective[c] = v
		} else {
			effective[c] = tracked[c]
		}
		blacklisted.Add(blacklisted, effective[c])
	}

	signed := SignedCirculatingSupply(total, blacklisted)
	anomaly := signed.Sign() < 0
	if anomaly {
		e.logger.Printf("blacklisted supply %s exceeds total supply %s", blacklisted, total)
	}

	state := &domain.OnChainState{
		TotalSupplyRaw:          total,
		TotalSupplyFormatted:    chain.FormatTokenAmount(total, decimals, 2),
		TotalSupplyMillions:     chain.FormatMillions(total, decimals),
		Decimals:                decimals,
		Holders:                 ranked,
		HoldersCount:            totalCount,
		HoldersChange:           totalChange,
		Distribution:            buildDistribution(chains, raw, effective, counts, totalCount, decimals),
		BlacklistedSupply:       blacklisted,
		CirculatingSupply:       CalculateCirculatingSupply(total, blacklisted),
		CirculatingSupplySigned: signed,
		SupplyAnomaly:           anomaly,
		FetchedAt:               e.now().UTC(),
	}
	for _, c := range chains {
		if degraded[c] {
			state.DegradedChains = append(state.DegradedChains, c)
		}
	}

	holderGauge := int64(-1)
	if totalCount != nil {
		holderGauge = *totalCount
	}
	observability.UpdateSupply(
		chain.ToDecimal(total, decimals).InexactFloat64(),
		chain.ToDecimal(state.CirculatingSupply, decimals).InexactFloat64(),
		chain.ToDecimal(blacklisted, decimals).InexactFloat64(),
		holderGauge,
	)
	return state, nil
}

// fetchSupplies returns each chain's raw supply, keeping the maximum when
// several contracts share a chain. Chains with no successful read get zero.
func (e *Engine) fetchSupplies(ctx context.Context, chains []domain.Chain, degraded map[domain.Chain]bool) (map[domain.Chain]*big.Int, error) {
	ops := make([]fallback.Operation[*big.Int], len(e.contracts))
	for i, ct := range e.contracts {
		ops[i] = fallback.Operation[*big.Int]{
			Name: fmt.Sprintf("supply:%s:%s", ct.Chain, ct.Address),
			Primary: retried(e.retryCfg, "totalSupply", func(ctx context.Context) (*big.Int, error) {
				return e.rpc.TotalSupply(ctx, ct.Chain, ct.Address)
			}),
		}
		if ex := e.explorer(ct.Chain); ex != nil {
			ops[i].Fallback = func(ctx context.Context) (*big.Int, error) {
				return ex.TokenSupply(ctx, ct.Address)
			}
		}
	}

	res := fallback.ExecuteParallel(ctx, ops, e.popts)
	raw := make(map[domain.Chain]*big.Int, len(chains))
	var errs []error
	for i, r := range res.Results {
		c := e.contracts[i].Chain
		if !r.OK() {
			e.logger.Printf("supply fetch failed on %s: %v", c, r.Err())
			errs = append(errs, fmt.Errorf("%s: %w", c, r.Err()))
			continue
		}
		if r.UsedFallback {
			e.logger.Printf("supply on %s served by explorer after RPC failure: %v", c, r.PrimaryErr)
		}
		if cur, ok := raw[c]; !ok || r.Data.Cmp(cur) > 0 {
			raw[c] = r.Data
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoSupplyData, errors.Join(errs...))
	}
	for _, c := range chains {
		if _, ok := raw[c]; !ok {
			raw[c] = new(big.Int)
			degraded[c] = true
			observability.RecordChainDegraded(c.String(), "supply")
		}
	}
	return raw, nil
}

// fetchBlacklistBalances sums blacklisted balances per chain. A chain is
// present in the result only if every address was read.
func (e *Engine) fetchBlacklistBalances(ctx context.Context, chains []domain.Chain) map[domain.Chain]*big.Int {
	out := make(map[domain.Chain]*big.Int, len(chains))
	if e.blacklist.Len() == 0 {
		for _, c := range chains {
			out[c] = new(big.Int)
		}
		return out
	}

	var (
		ops     []fallback.Operation[*big.Int]
		targets []domain.Chain
	)
	for _, c := range chains {
		ct, _ := e.contractFor(c)
		for _, addr := range e.blacklist.Addresses() {
			ops = append(ops, e.balanceOp("blacklist", ct, addr))
			targets = append(targets, c)
		}
	}

	res := fallback.ExecuteParallel(ctx, ops, e.popts)
	failed := make(map[domain.Chain]bool)
	for i, r := range res.Results {
		c := targets[i]
		if !r.OK() {
			failed[c] = true
			e.logger.Printf("blacklist balance failed on %s: %v", c, r.Err())
			continue
		}
		if out[c] == nil {
			out[c] = new(big.Int)
		}
		out[c].Add(out[c], r.Data)
	}
	for c := range failed {
		delete(out, c)
		observability.RecordChainDegraded(c.String(), "blacklist")
	}
	return out
}

// fetchHolders reads every tracked account. Failed reads yield a zero
// balance.
func (e *Engine) fetchHolders(ctx context.Context, decimals int, total *big.Int) []domain.HolderSnapshot {
	out := make([]domain.HolderSnapshot, len(e.holders))
	var (
		ops  []fallback.Operation[*big.Int]
		slot []int
	)
	for i, h := range e.holders {
		out[i] = domain.HolderSnapshot{
			Address:    h.Address,
			Label:      h.Label,
			Chain:      h.Chain,
			BalanceRaw: new(big.Int),
			Quantity:   "0",
			Percentage: "0.00",
		}
		ct, ok := e.contractFor(h.Chain)
		if !ok {
			continue
		}
		op := e.balanceOp("holder", ct, h.Address)
		op.Name = fmt.Sprintf("%s:%d", op.Name, i)
		ops = append(ops, op)
		slot = append(slot, i)
	}

	res := fallback.ExecuteParallel(ctx, ops, e.popts)
	for j, r := range res.Results {
		h := &out[slot[j]]
		if !r.OK() {
			e.logger.Printf("balance fetch failed for %s on %s: %v", h.Address, h.Chain, r.Err())
			continue
		}
		h.BalanceRaw = r.Data
		h.Quantity = chain.FormatTokenAmount(r.Data, decimals, 2)
		h.Percentage = chain.FormatPercentage(r.Data, total)
	}
	return out
}

type holderCount struct {
	count  *int64
	change *int64
}

// fetchHolderCounts reads per-chain holder counts from the chain's explorer
// when it has a key, else from the holder index. Totals are nil when no
// chain reported a value.
func (e *Engine) fetchHolderCounts(ctx context.Context, chains []domain.Chain) (map[domain.Chain]*int64, *int64, *int64) {
	ops := make([]parallel.Operation[holderCount], len(chains))
	for i, c := range chains {
		ct, _ := e.contractFor(c)
		ops[i] = parallel.Operation[holderCount]{
			Name: "holders:" + c.String(),
			Fn: func(ctx context.Context) (holderCount, error) {
				return e.holderCount(ctx, c, ct.Address)
			},
		}
	}

	counts := make(map[domain.Chain]*int64, len(chains))
	res, err := parallel.Execute(ctx, ops, e.popts)
	if err != nil {
		e.logger.Printf("holder counts skipped: %v", err)
		return counts, nil, nil
	}

	var sumCount, sumChange *int64
	for i, o := range res.Results {
		c := chains[i]
		if o.Status != parallel.StatusSuccess {
			e.logger.Printf("holder count failed on %s: %v", c, o.Err)
			observability.RecordChainDegraded(c.String(), "holders")
			continue
		}
		if o.Data.count != nil {
			counts[c] = o.Data.count
			sumCount = addPtr(sumCount, *o.Data.count)
		}
		if o.Data.change != nil {
			sumChange = addPtr(sumChange, *o.Data.change)
		}
	}
	return counts, sumCount, sumChange
}

func (e *Engine) holderCount(ctx context.Context, c domain.Chain, contract string) (holderCount, error) {
	var explorerErr error
	if ex := e.explorer(c); ex != nil {
		n, err := retried(e.retryCfg, "holderCount", func(ctx context.Context) (int64, error) {
			return ex.TokenHolderCount(ctx, contract)
		})(ctx)
		if err == nil {
			return holderCount{count: &n}, nil
		}
		explorerErr = err
	}

	chainID, ok := domain.MoralisChainIDs[c]
	if e.index == nil || !e.index.HasKey() || !ok {
		return holderCount{}, explorerErr
	}
	s, err := retried(e.retryCfg, "holderSummary", func(ctx context.Context) (moralis.Summary, error) {
		return e.index.HolderSummary(ctx, chainID, contract)
	})(ctx)
	if err != nil {
		return holderCount{}, errors.Join(explorerErr, err)
	}
	return holderCount{count: s.Count, change: s.Change}, nil
}

func (e *Engine) balanceOp(kind string, ct domain.ContractAddress, address string) fallback.Operation[*big.Int] {
	op := fallback.Operation[*big.Int]{
		Name: fmt.Sprintf("%s:%s:%s", kind, ct.Chain, address),
		Primary: retried(e.retryCfg, "balanceOf", func(ctx context.Context) (*big.Int, error) {
			return e.rpc.BalanceOf(ctx, ct.Chain, ct.Address, address)
		}),
	}
	if ex := e.explorer(ct.Chain); ex != nil {
		op.Fallback = func(ctx context.Context) (*big.Int, error) {
			return ex.TokenBalance(ctx, ct.Address, address)
		}
	}
	return op
}

func retried[T any](cfg retry.Config, name string, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	cfg.Name = name
	return func(ctx context.Context) (T, error) {
		return retry.Do(ctx, fn, cfg)
	}
}

// contractFor returns the first configured contract on c.
func (e *Engine) contractFor(c domain.Chain) (domain.ContractAddress, bool) {
	for _, ct := range e.contracts {
		if ct.Chain == c {
			return ct, true
		}
	}
	return domain.ContractAddress{}, false
}

// chains returns the chains with a configured contract, in display order.
func (e *Engine) chains() []domain.Chain {
	seen := make(map[domain.Chain]bool)
	for _, ct := range e.contracts {
		seen[ct.Chain] = true
	}
	var out []domain.Chain
	for _, c := range domain.AllChains() {
		if seen[c] {
			out = append(out, c)
			delete(seen, c)
		}
	}
	for _, ct := range e.contracts {
		if seen[ct.Chain] {
			out = append(out, ct.Chain)
			delete(seen, ct.Chain)
		}
	}
	return out
}

func (e *Engine) explorer(c domain.Chain) Explorer {
	ex, ok := e.explorers[c]
	if !ok || ex == nil || !ex.HasKey() {
		return nil
	}
	return ex
}

func holdersOn(holders []domain.HolderSnapshot, c domain.Chain) []domain.HolderSnapshot {
	var out []domain.HolderSnapshot
	for _, h := range holders {
		if h.Chain == c {
			out = append(out, h)
		}
	}
	return out
}

func addPtr(sum *int64, v int64) *int64 {
	n := v
	if sum != nil {
		n += *sum
	}
	return &n
}

// buildDistribution reports each chain's supply net of blacklisted
// balances, floored at zero, and its share of holders.
func buildDistribution(
	chains []domain.Chain,
	raw, blacklisted map[domain.Chain]*big.Int,
	counts map[domain.Chain]*int64,
	totalCount *int64,
	decimals int,
) []domain.ChainShare {
	adjusted := make(map[domain.Chain]*big.Int, len(chains))
	sum := new(big.Int)
	for _, c := range chains {
		v := SignedCirculatingSupply(raw[c], blacklisted[c])
		if v.Sign() < 0 {
			v.SetInt64(0)
		}
		adjusted[c] = v
		sum.Add(sum, v)
	}

	out := make([]domain.ChainShare, 0, len(chains))
	for _, c := range chains {
		share := domain.ChainShare{
			Chain:            c,
			SupplyRaw:        adjusted[c],
			Supply:           chain.FormatTokenAmount(adjusted[c], decimals, 2),
			SupplyPercentage: chain.FormatPercentage(adjusted[c], sum),
			HolderCount:      counts[c],
		}
		if n := counts[c]; n != nil && totalCount != nil && *totalCount > 0 {
			share.HolderPercentage = chain.FormatPercentage(big.NewInt(*n), big.NewInt(*totalCount))
		}
		out = append(out, share)
	}
	return out
}
