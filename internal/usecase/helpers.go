package usecase

import (
	"fmt"
	"regexp"
	"time"

	"github.com/semmidev/syncbackup/internal/domain"
)

const timestampLayout = "20060102_150405"

var timestampPattern = regexp.MustCompile(`(\d{8})_(\d{6})`)

// Logger is the subset of the application logger the use cases need.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

func artifactName(kind domain.RecordKind, folder string, ts time.Time) string {
	stamp := ts.Format(timestampLayout)
	switch kind {
	case domain.RecordInicial:
		return fmt.Sprintf("%s_INCREMENTAL_INICIAL_%s", folder, stamp)
	case domain.RecordIncremental:
		return fmt.Sprintf("%s_INCREMENTAL_%s", folder, stamp)
	default:
		return fmt.Sprintf("%s_%s", folder, stamp)
	}
}

// extractTimestamp returns the last YYYYMMDD_HHMMSS stamp in an artifact name.
func extractTimestamp(name string) (time.Time, error) {
	matches := timestampPattern.FindAllStringSubmatch(name, -1)
	if len(matches) == 0 {
		return time.Time{}, fmt.Errorf("invalid artifact name %q: no timestamp found", name)
	}

	last := matches[len(matches)-1]
	return time.ParseInLocation(timestampLayout, last[1]+"_"+last[2], time.Local)
}
