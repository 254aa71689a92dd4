package light

import "github.com/ethereum/go-ethereum/metrics"

var (
	headersAcceptedMeter = metrics.NewRegisteredMeter("relay/headers/accepted", nil)
	headersRejectedMeter = metrics.NewRegisteredMeter("relay/headers/rejected", nil)
	headGauge            = metrics.NewRegisteredGauge("relay/head", nil)
	validatorSetsGauge   = metrics.NewRegisteredGauge("relay/validators/sets", nil)
	proofsVerifiedMeter  = metrics.NewRegisteredMeter("relay/proofs/verified", nil)
	proofsFailedMeter    = metrics.NewRegisteredMeter("relay/proofs/failed", nil)
	submitTimer          = metrics.NewRegisteredTimer("relay/submit", nil)
)
