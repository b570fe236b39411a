package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// rawRecord mirrors the upstream schema. Only AnnId, Header and PublishDate
// are strictly required; everything else is optional or nullable and
// tolerated as-is.
type rawRecord struct {
	AnnID            json.Number `json:"AnnId"`
	ID               json.Number `json:"Id"`
	ActionType       string      `json:"ActionType"`
	ActionTypeID     json.Number `json:"ActionTypeID"`
	CourtType        string      `json:"CourtType"`
	AnnouncementType string      `json:"AnnouncementType"`
	Status           *string     `json:"Status"`
	Header           string      `json:"Header"`
	Comment          string      `json:"Comment"`
	Body             *string     `json:"Body"`
	PublishDate      string      `json:"PublishDate"`
	DebtorName       *string     `json:"debtorName"`
	ActionDate       *string     `json:"ActionDate"`
	URL              *string     `json:"url"`
	AnnCreatedDate   *string     `json:"AnnCreatedDate"`
	DebtorIdentifier *string     `json:"debtorIdentifier"`
}

// publishDateLayouts covers the formats the feed has been observed to emit.
var publishDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// validateRecord checks one raw feed element against the strict schema and
// converts it into a Record. A nil RecordError means the record is valid.
func validateRecord(item json.RawMessage) (Record, *RecordError) {
	var raw rawRecord
	if err := json.Unmarshal(item, &raw); err != nil {
		return Record{}, &RecordError{ID: probeID(item), Reason: fmt.Sprintf("malformed record: %v", err)}
	}

	id, err := raw.AnnID.Int64()
	if err != nil || id <= 0 {
		return Record{}, &RecordError{ID: raw.AnnID.String(), Reason: "AnnId must be a positive integer"}
	}
	externalID := strconv.FormatInt(id, 10)

	title := strings.TrimSpace(raw.Header)
	if title == "" {
		return Record{}, &RecordError{ID: externalID, Reason: "Header must be a non-empty string"}
	}

	publishedAt, err := parsePublishDate(raw.PublishDate)
	if err != nil {
		return Record{}, &RecordError{ID: externalID, Reason: fmt.Sprintf("PublishDate: %v", err)}
	}

	record := Record{
		ExternalID:  externalID,
		Title:       title,
		Description: strings.TrimSpace(raw.Comment),
		PublishedAt: publishedAt,
	}
	if raw.URL != nil {
		record.SourceURL = strings.TrimSpace(*raw.URL)
	}
	return record, nil
}

// parsePublishDate accepts the known layouts plus the legacy /Date(ms)/
// form emitted by older WCF endpoints.
func parsePublishDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing")
	}

	if strings.HasPrefix(value, "/Date(") && strings.HasSuffix(value, ")/") {
		millis := strings.TrimSuffix(strings.TrimPrefix(value, "/Date("), ")/")
		if idx := strings.IndexAny(millis, "+-"); idx > 0 {
			millis = millis[:idx]
		}
		ms, err := strconv.ParseInt(millis, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("unparseable legacy date %q", value)
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	for _, layout := range publishDateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

// probeID extracts AnnId from an otherwise malformed record, best effort.
func probeID(item json.RawMessage) string {
	var probe struct {
		AnnID json.Number `json:"AnnId"`
	}
	if err := json.Unmarshal(item, &probe); err != nil {
		return ""
	}
	return probe.AnnID.String()
}
