package ingest

import (
	"time"
)

type IngestOutcomeElasticEvent struct {
	Timestamp time.Time

	Success    bool
	FailReason string

	Trip    string
	Vehicle string
}
