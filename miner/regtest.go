// Package miner implements the regtest-only internal header miner (spec
// §6.3 "generate(n)"): a brute-force nonce search against the reference
// (non-memory-hard) RandomX stand-in, suitable for deterministic test
// harnesses and CI but not for any network where PoW must mean something.
package miner

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/alpha-project/alphad/chainstate"
	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/params"
	"github.com/alpha-project/alphad/validation"
)

// ErrNotRegtest guards against accidentally wiring this miner to a network
// where proof-of-work is expected to mean something.
var ErrNotRegtest = errors.New("alpha: internal miner is regtest-only")

// Regtest drives header production against a Chainstate Manager, used by
// both the generate(n) RPC and an equivalent CLI subcommand.
type Regtest struct {
	chain        *chainstate.Manager
	engine       *validation.Engine
	params       *params.ConsensusParams
	minerAddress [20]byte
}

// New constructs a Regtest miner bound to chain/engine. It refuses to mine
// on any network other than regtest (spec §6.3 "regtest only").
func New(chain *chainstate.Manager, engine *validation.Engine, p *params.ConsensusParams, minerAddress [20]byte) (*Regtest, error) {
	if p.NetworkName != "regtest" {
		return nil, ErrNotRegtest
	}
	return &Regtest{chain: chain, engine: engine, params: p, minerAddress: minerAddress}, nil
}

// Generate mines n headers atop the current active tip, feeding each through
// the same acceptance path as a peer-delivered header, and returns their
// hashes in the order produced.
func (r *Regtest) Generate(n int) ([]common.Hash, error) {
	hashes := make([]common.Hash, 0, n)
	for i := 0; i < n; i++ {
		h, err := r.mineOne()
		if err != nil {
			return hashes, err
		}
		if _, reject := r.chain.AcceptBlockHeader(h, 0); reject != nil && !reject.Soft {
			return hashes, reject
		}
		r.chain.ActivateBestChain()
		hashes = append(hashes, h.Hash())
	}
	return hashes, nil
}

func (r *Regtest) mineOne() (*types.Header, error) {
	tip := r.chain.Store().ActiveChainTip()

	genesisHeader, err := types.DecodeHeader(r.params.GenesisHeaderBytes[:])
	if err != nil {
		return nil, err
	}

	mtp := validation.MedianTimePast(tip, r.params.MedianTimeSpan)
	now := uint32(time.Now().Unix())
	t := mtp + 1
	if now > t {
		t = now
	}

	h := &types.Header{
		Version:      r.params.MinHeaderVersion,
		PrevHash:     tip.Hash,
		MinerAddress: r.minerAddress,
		Time:         t,
		Bits:         validation.ExpectedBits(tip, r.params, genesisHeader.Bits, genesisHeader.Time),
	}
	target := params.CompactToTarget(h.Bits)

	for nonce := uint32(0); ; nonce++ {
		h.Nonce = nonce
		randomXHash, commitment := r.engine.MakeCommitmentAndHash(h)
		commitmentInt := new(uint256.Int).SetBytes(commitment[:])
		if commitmentInt.Cmp(target) <= 0 {
			h.RandomXHash = randomXHash
			log.Debug("regtest miner found header", "height", tip.Height+1, "nonce", nonce)
			return h, nil
		}
		if nonce == ^uint32(0) {
			return nil, errors.New("alpha: exhausted nonce space without finding a valid header")
		}
	}
}
