// Package bandit implements a disjoint LinUCB contextual bandit.
//
// Every arm (a candidate assignee) owns an independent ridge-regression
// model: an n×n matrix A starting at the identity and an n-vector b
// starting at zero. Scoring an arm against a context vector x gives
//
//	θ           = A⁻¹b
//	mean        = θ·x
//	uncertainty = α·√(xᵀA⁻¹x)
//	score       = mean + uncertainty
//	confidence  = 1 / (uncertainty + ε)
//
// and learning from a reward r applies A += xxᵀ, b += r·x.
//
// Confidence is an inverse-uncertainty heuristic, not a probability.
//
// Arms are created lazily on first sight with an uninformed prior and
// never evicted. Learned state is written through a Persister after
// every update, either synchronously or by a background flusher.
package bandit
