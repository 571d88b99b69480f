package chainstate

// RejectReason is the stable reason string carried by header-acceptance
// rejections (spec §7). Soft reasons are not peer-penalized; hard reasons
// are (the Sync Coordinator maps them to misbehavior points, spec §4.4/§4.5).
type RejectReason struct {
	Code string
	Soft bool
	err  error
}

func (r *RejectReason) Error() string {
	if r.err != nil {
		return r.Code + ": " + r.err.Error()
	}
	return r.Code
}

func (r *RejectReason) Unwrap() error { return r.err }

func soft(code string) *RejectReason                { return &RejectReason{Code: code, Soft: true} }
func hard(code string, err error) *RejectReason { return &RejectReason{Code: code, Soft: false, err: err} }

// Soft rejections (spec §7 "Acceptance soft").
var (
	RejectDuplicate   = soft("duplicate")
	RejectOrphaned    = soft("orphaned")
	RejectOrphanLimit = soft("orphan-limit")
)

// Hard rejection code constructors (spec §7 "Acceptance hard").
func rejectHighHash(err error) *RejectReason  { return hard("high-hash", err) }
func rejectBadPrev(err error) *RejectReason   { return hard("bad-prev", err) }
func rejectBadDiffbits(err error) *RejectReason { return hard("bad-diffbits", err) }
func rejectTimeTooOld(err error) *RejectReason  { return hard("time-too-old", err) }
func rejectTimeTooNew(err error) *RejectReason  { return hard("time-too-new", err) }
func rejectBadVersion(err error) *RejectReason  { return hard("bad-version", err) }
