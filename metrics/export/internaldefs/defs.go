package internaldefs

import (
	"strconv"
	"strings"
	"time"

	"github.com/wastehub/onboard"
)

const namespace = "onboard"

// CounterDef names one exported counter.
type CounterDef struct {
	ID   onboard.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   onboard.MetricID
	Name string
	Help string
}

var counterHelp = map[onboard.MetricID]string{
	onboard.MetricOTPRequested:         "Registration OTPs requested.",
	onboard.MetricOTPResent:            "Registration OTPs resent.",
	onboard.MetricOTPVerified:          "Registration OTPs accepted.",
	onboard.MetricOTPFailure:           "Registration OTPs rejected.",
	onboard.MetricProfileSubmitted:     "Company profiles submitted.",
	onboard.MetricApprovalObserved:     "Approvals observed while polling registration status.",
	onboard.MetricPINCreated:           "PINs created at the end of registration.",
	onboard.MetricLoginOTPVerified:     "Login OTPs accepted.",
	onboard.MetricLoginSuccess:         "Facility manager logins completed with a PIN.",
	onboard.MetricLoginPINFailure:      "Login PINs rejected.",
	onboard.MetricAdminLoginSuccess:    "Administrator logins completed.",
	onboard.MetricValidationFailure:    "Steps rejected by local input validation.",
	onboard.MetricProviderRejected:     "Identity provider calls rejected as invalid.",
	onboard.MetricProviderUnauthorized: "Identity provider calls answered unauthorized.",
	onboard.MetricProviderLocked:       "Identity provider calls answered locked.",
	onboard.MetricProviderRateLimited:  "Identity provider calls answered rate limited.",
	onboard.MetricProviderTransport:    "Identity provider calls that failed in transport.",
	onboard.MetricTokenRefreshed:       "Provider token refreshes.",
	onboard.MetricSessionExpired:       "Sessions ended because provider tokens expired.",
	onboard.MetricSessionReset:         "Sessions reset after an undecodable or inconsistent state.",
	onboard.MetricLoginContextExpired:  "Unfinished logins dropped after their deadline.",
	onboard.MetricGuardAllowed:         "Guarded requests let through.",
	onboard.MetricGuardRedirect:        "Guarded requests redirected.",
	onboard.MetricStoreUnavailable:     "Session store operations that failed.",
	onboard.MetricLogout:               "Logouts.",
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs = buildCounterDefs()

// HistogramDefs lists the histograms.
var HistogramDefs = []HistogramDef{
	{ID: onboard.MetricProviderLatency, Name: namespace + "_provider_latency_seconds", Help: "Identity provider call latency."},
}

// BucketCount is the number of latency buckets, the unbounded one included.
const BucketCount = len(onboard.HistogramBucketBounds) + 1

// HistogramBounds are the bucket upper bounds in seconds, without +Inf.
var HistogramBounds = boundsInSeconds(onboard.HistogramBucketBounds[:])

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into separate instruments.
var HistogramBoundSuffix = boundSuffixes(HistogramBounds)

func buildCounterDefs() []CounterDef {
	out := make([]CounterDef, 0, len(counterHelp))
	for _, id := range onboard.MetricIDs() {
		help, ok := counterHelp[id]
		if !ok {
			continue
		}
		out = append(out, CounterDef{ID: id, Name: namespace + "_" + id.String() + "_total", Help: help})
	}
	return out
}

func boundsInSeconds(bounds []time.Duration) []float64 {
	out := make([]float64, len(bounds))
	for i, b := range bounds {
		out[i] = b.Seconds()
	}
	return out
}

func boundSuffixes(bounds []float64) []string {
	out := make([]string, 0, len(bounds)+1)
	for _, b := range bounds {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}

// NormalizeBuckets copies raw into a fixed-size bucket array, padding or
// truncating as needed.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
