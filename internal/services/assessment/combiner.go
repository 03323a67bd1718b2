// Package assessment fuses a reputation verdict and a community rating into a
// single SafetyAssessment.
//
// Decision table (confidence is rounded to three decimals before banding):
//
//	reputation          community (>=3 votes)   confidence                         verdict
//	none/unavailable    no                      0                                  unknown
//	none/unavailable    yes                     community * 0.6                    bands
//	pending             no                      0                                  unknown
//	pending             yes                     community * 0.8                    bands
//	complete, secure    no                      max(0.7, 0.95 - 2*ratio)           safe
//	complete, insecure  no                      min(0.3, ratio)                    unsafe
//	complete            yes                     0.75*reputation + 0.25*community   safe if > 0.85, else unsafe
//
// Bands: > 0.7 safe, < 0.3 unsafe, otherwise unknown. A confidence of zero is
// always unknown. Ratings with fewer than three votes are ignored for scoring.
package assessment

import (
	"math"
	"strings"

	"qrsafe/internal/domain"
)

const (
	WarnHighRisk      = "High risk: this link is likely unsafe"
	WarnModerateRisk  = "Moderate risk: proceed with caution"
	WarnLowConfidence = "Low confidence: limited safety data for this link"
	WarnDisagree      = "Sources disagree: reputation and community ratings conflict"

	WarnNoData      = "No safety data available for this code"
	WarnNonWeb      = "Not a web link: reputation check skipped"
	WarnPending     = "Reputation analysis is still pending"
	WarnUnavailable = "Reputation service unavailable"
	WarnTooFewVotes = "Not enough community votes yet"
)

const (
	disagreementThreshold  = 0.4
	combinedSafeThreshold  = 0.85
	safeBand               = 0.7
	unsafeBand             = 0.3
	pendingCommunityWeight = 0.8
	onlyCommunityWeight    = 0.6
)

// Combiner is the configurable form of Combine. PreferWeighted scores the
// community side with its recency-weighted confidence instead of the raw
// safe ratio.
type Combiner struct {
	PreferWeighted bool
}

// Combine applies the decision table with the raw community confidence.
func Combine(rep *domain.ReputationVerdict, com *domain.CommunityRating, nonWeb bool) domain.SafetyAssessment {
	return Combiner{}.Combine(rep, com, nonWeb)
}

// Combine is deterministic and never mutates its inputs; the returned
// assessment holds its own copies of them.
func (c Combiner) Combine(rep *domain.ReputationVerdict, com *domain.CommunityRating, nonWeb bool) domain.SafetyAssessment {
	a := domain.SafetyAssessment{NonWeb: nonWeb}
	if rep != nil {
		r := *rep
		a.Reputation = &r
	}
	if com != nil {
		cr := *com
		a.Community = &cr
	}

	// Opaque payloads never reach the provider; ignore any verdict passed in.
	var usableRep *domain.ReputationVerdict
	if rep != nil && !nonWeb {
		usableRep = rep
	}
	cc, comUsable := c.communityConfidence(com)

	var (
		conf     float64
		verdict  domain.Verdict
		bothUsed bool
	)
	switch {
	case usableRep != nil && usableRep.State == domain.ReputationComplete:
		repConf, repVerdict := reputationConfidence(*usableRep)
		if comUsable {
			conf = round3(0.75*repConf + 0.25*cc)
			verdict = domain.VerdictUnsafe
			if conf > combinedSafeThreshold {
				verdict = domain.VerdictSafe
			}
			bothUsed = true
		} else {
			conf = round3(repConf)
			verdict = repVerdict
		}
	case usableRep != nil && usableRep.State == domain.ReputationPending:
		if comUsable {
			conf = round3(cc * pendingCommunityWeight)
			verdict = band(conf)
		}
	default:
		if comUsable {
			conf = round3(cc * onlyCommunityWeight)
			verdict = band(conf)
		}
	}

	hasData := comUsable || (usableRep != nil && usableRep.State == domain.ReputationComplete)
	if conf == 0 {
		verdict = domain.VerdictUnknown
	}
	a.Confidence = conf
	a.Verdict = verdict

	if !hasData {
		a.Verdict = domain.VerdictUnknown
		a.Warning = dataWarning(usableRep, com, nonWeb)
		return a
	}
	var warnings []string
	if w := riskWarning(conf); w != "" {
		warnings = append(warnings, w)
	}
	if bothUsed && math.Abs(conf-cc) > disagreementThreshold {
		warnings = append(warnings, WarnDisagree)
	}
	a.Warning = strings.Join(warnings, "; ")
	return a
}

func (c Combiner) communityConfidence(com *domain.CommunityRating) (float64, bool) {
	if com == nil || !com.Meaningful() {
		return 0, false
	}
	// A weighted confidence of zero next to safe votes was never computed.
	if c.PreferWeighted && (com.WeightedConfidence > 0 || com.SafeCount == 0) {
		return com.WeightedConfidence, true
	}
	return com.Confidence, true
}

func reputationConfidence(v domain.ReputationVerdict) (float64, domain.Verdict) {
	ratio := v.DetectionRatio()
	if v.IsSecure {
		return math.Max(0.7, 0.95-2*ratio), domain.VerdictSafe
	}
	return math.Min(0.3, ratio), domain.VerdictUnsafe
}

func band(conf float64) domain.Verdict {
	switch {
	case conf > safeBand:
		return domain.VerdictSafe
	case conf < unsafeBand:
		return domain.VerdictUnsafe
	default:
		return domain.VerdictUnknown
	}
}

// first match wins
func riskWarning(conf float64) string {
	switch {
	case conf < 0.3:
		return WarnHighRisk
	case conf < 0.6:
		return WarnModerateRisk
	case conf < 0.8:
		return WarnLowConfidence
	default:
		return ""
	}
}

func dataWarning(rep *domain.ReputationVerdict, com *domain.CommunityRating, nonWeb bool) string {
	switch {
	case nonWeb:
		return WarnNonWeb
	case rep != nil && rep.State == domain.ReputationPending:
		return WarnPending
	case rep != nil && rep.State == domain.ReputationUnavailable:
		return WarnUnavailable
	case com != nil && com.HasData():
		return WarnTooFewVotes
	default:
		return WarnNoData
	}
}

func round3(x float64) float64 { return math.Round(x*1000) / 1000 }

// EffectiveVerdict is what to display for a history entry: the user's own
// vote when present, otherwise the computed verdict.
func EffectiveVerdict(e domain.ScanHistoryEntry) domain.Verdict {
	if e.UserVote != nil {
		return *e.UserVote
	}
	return e.Assessment.Verdict
}
