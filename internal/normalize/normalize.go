// Package normalize maps heterogeneous raw source rows into the
// canonical record schema, deduplicates them, and classifies changes
// against the previous run's dataset.
package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"policypipe/internal/config"
	"policypipe/internal/schema"
	"policypipe/internal/source"
)

// ErrNoRows is returned when normalization produces zero valid records.
// The dataset must never publish empty, in any mode.
var ErrNoRows = errors.New("canonical dataset is empty")

// ErrPrimariesEmpty is returned when no canonical row originated from a
// primary-tier source outside bootstrap mode: fallback data may not
// silently substitute for primary data.
var ErrPrimariesEmpty = errors.New("no canonical rows from primary sources")

// Result holds the normalizer's outputs for one run.
type Result struct {
	Records []schema.CanonicalRecord
	Changes []schema.Change
}

// Normalize builds the canonical dataset for a run from raw rows grouped
// by source. Rows are mapped through each source's declared field table,
// deduplicated, and compared against previous for change tracking. The
// mode decides whether the primary-tier policy applies.
func Normalize(rowsBySource map[string][]source.Row, sources []config.Source, previous []schema.CanonicalRecord, mode string, now time.Time) (*Result, error) {
	nowISO := now.UTC().Format(time.RFC3339)

	// Map rows source by source, in config order so dedup is deterministic.
	var canonical []schema.CanonicalRecord
	primaryRows := 0
	for _, src := range sources {
		rows, ok := rowsBySource[src.SourceID]
		if !ok {
			continue
		}
		for _, row := range rows {
			rec, ok := mapRow(row, src, nowISO)
			if !ok {
				continue
			}
			canonical = append(canonical, rec)
			if src.Primary() {
				primaryRows++
			}
		}
	}

	canonical = dedupe(canonical)

	if len(canonical) == 0 {
		return nil, ErrNoRows
	}
	if primaryRows == 0 && hasPrimary(sources) && mode != schema.ModeBootstrap {
		return nil, fmt.Errorf("%w (mode %s)", ErrPrimariesEmpty, mode)
	}

	changes := trackChanges(&canonical, previous, nowISO)

	sort.Slice(canonical, func(i, j int) bool {
		return canonical[i].PolicyID < canonical[j].PolicyID
	})
	return &Result{Records: canonical, Changes: changes}, nil
}

func hasPrimary(sources []config.Source) bool {
	for _, s := range sources {
		if s.Enabled && s.Primary() {
			return true
		}
	}
	return false
}

func mapRow(row source.Row, src config.Source, nowISO string) (schema.CanonicalRecord, bool) {
	m := src.Mapping
	title := pickValue(row, m.TitleField, "title", "")
	if title == "" {
		// A record with no title cannot render a page; counts as a
		// normalization defect, not an abort.
		return schema.CanonicalRecord{}, false
	}

	policyID := pickValue(row, m.IDField, "id", "")
	officialURL := pickValue(row, m.OfficialURL, "official_url", src.FallbackOfficialURL)
	if policyID == "" {
		policyID = naturalKey(title, officialURL)
	}

	return schema.CanonicalRecord{
		PolicyID:              policyID,
		Title:                 title,
		Region:                pickValue(row, m.RegionField, "region", "전국"),
		TargetGroup:           pickValue(row, m.TargetField, "target_group", "일반"),
		Category:              pickValue(row, m.Category, "category", "기타"),
		EligibilityText:       pickValue(row, m.Eligibility, "eligibility_text", ""),
		BenefitText:           pickValue(row, m.Benefit, "benefit_text", ""),
		ApplicationPeriodText: pickValue(row, m.Period, "application_period_text", ""),
		OfficialURL:           officialURL,
		SourceAPI:             src.SourceID,
		SourceOrg:             pickValue(row, m.SourceOrg, "source_org", src.SourceID),
		SourceUpdatedAt:       pickValue(row, m.UpdatedAt, "source_updated_at", nowISO),
		LastCheckedAt:         nowISO,
		Status:                schema.StatusActive,
	}, true
}

// naturalKey derives a stable id for rows with no natural key from the
// normalized title and official URL.
func naturalKey(title, officialURL string) string {
	seed := strings.ToLower(strings.TrimSpace(title)) + "|" + strings.TrimSpace(officialURL)
	sum := sha1.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}

// dedupe keeps one record per policy_id. The later-checked record wins;
// within a run (identical last_checked_at) the later source_updated_at
// wins, and a full tie keeps the first occurrence so re-runs with
// identical input produce identical output.
func dedupe(records []schema.CanonicalRecord) []schema.CanonicalRecord {
	index := make(map[string]int, len(records))
	out := records[:0]
	for _, rec := range records {
		i, seen := index[rec.PolicyID]
		if !seen {
			index[rec.PolicyID] = len(out)
			out = append(out, rec)
			continue
		}
		kept := out[i]
		if rec.LastCheckedAt > kept.LastCheckedAt ||
			(rec.LastCheckedAt == kept.LastCheckedAt && rec.SourceUpdatedAt > kept.SourceUpdatedAt) {
			out[i] = rec
		}
	}
	return out
}

// fingerprintFields are the fields whose change flips a record to
// "updated" status against the previous dataset.
var fingerprintFields = []func(*schema.CanonicalRecord) string{
	func(r *schema.CanonicalRecord) string { return r.Title },
	func(r *schema.CanonicalRecord) string { return r.Region },
	func(r *schema.CanonicalRecord) string { return r.TargetGroup },
	func(r *schema.CanonicalRecord) string { return r.Category },
	func(r *schema.CanonicalRecord) string { return r.EligibilityText },
	func(r *schema.CanonicalRecord) string { return r.BenefitText },
	func(r *schema.CanonicalRecord) string { return r.ApplicationPeriodText },
	func(r *schema.CanonicalRecord) string { return r.OfficialURL },
}

func fingerprint(r *schema.CanonicalRecord) string {
	parts := make([]string, len(fingerprintFields))
	for i, f := range fingerprintFields {
		parts[i] = f(r)
	}
	return strings.Join(parts, "\n")
}

// trackChanges classifies every current record against the previous
// dataset and appends closed records for ids that disappeared. Updated
// records carry a patch-format diff of their fingerprint fields.
func trackChanges(canonical *[]schema.CanonicalRecord, previous []schema.CanonicalRecord, nowISO string) []schema.Change {
	prevByID := make(map[string]*schema.CanonicalRecord, len(previous))
	for i := range previous {
		if previous[i].PolicyID != "" {
			prevByID[previous[i].PolicyID] = &previous[i]
		}
	}
	currentIDs := make(map[string]bool, len(*canonical))

	dmp := diffmatchpatch.New()
	var changes []schema.Change
	for i := range *canonical {
		rec := &(*canonical)[i]
		currentIDs[rec.PolicyID] = true
		old := prevByID[rec.PolicyID]
		change := schema.Change{PolicyID: rec.PolicyID, Title: rec.Title}
		switch {
		case old == nil:
			rec.ChangeType = schema.ChangeCreated
		case fingerprint(old) == fingerprint(rec):
			rec.ChangeType = schema.ChangeUnchanged
		default:
			rec.ChangeType = schema.ChangeUpdated
			before, after := fingerprint(old), fingerprint(rec)
			diffs := dmp.DiffMain(before, after, false)
			change.Diff = dmp.PatchToText(dmp.PatchMake(before, diffs))
		}
		change.ChangeType = rec.ChangeType
		changes = append(changes, change)
	}

	// Records that vanished from collection stay in the dataset as closed.
	prevIDs := make([]string, 0, len(prevByID))
	for id := range prevByID {
		prevIDs = append(prevIDs, id)
	}
	sort.Strings(prevIDs)
	for _, id := range prevIDs {
		if currentIDs[id] {
			continue
		}
		closed := *prevByID[id]
		closed.Status = schema.StatusClosed
		closed.LastCheckedAt = nowISO
		closed.ChangeType = schema.ChangeClosed
		*canonical = append(*canonical, closed)
		changes = append(changes, schema.Change{
			PolicyID:   id,
			ChangeType: schema.ChangeClosed,
			Title:      closed.Title,
		})
	}
	return changes
}
