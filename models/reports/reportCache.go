package reports

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/models"
	"bitbucket.org/vetmanager/caja_backend/utils"
)

func reportCacheTTL() time.Duration {
	// Env: REPORT_CACHE_TTL_SECONDS (0 disables caching)
	ttl := 0
	if v := strings.TrimSpace(os.Getenv("REPORT_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return time.Duration(ttl) * time.Second
}

func reportCacheEnabled() bool {
	return reportCacheTTL() > 0
}

// Reports are point-in-time snapshots, so serving a seconds-old copy is no
// less consistent than racing a posting.
func reportCacheKey(clinicId string, name string, fromDate models.MyDateString, toDate models.MyDateString) string {
	return fmt.Sprintf("Report:%s:%s:%d:%d",
		name, clinicId,
		time.Time(fromDate).UTC().Unix(),
		time.Time(toDate).UTC().Unix())
}

// cacheableWindow rejects windows that end in the future: postings are still
// landing in them, so a cached snapshot would serve stale totals for the
// whole TTL. Closed historical windows are immutable and safe to cache.
func cacheableWindow(toDate models.MyDateString) bool {
	return !time.Time(toDate).After(time.Now().UTC())
}


func reportSlowMs() int64 {
	// Env: REPORT_SLOW_MS (default 500ms)
	ms := int64(500)
	if v := strings.TrimSpace(os.Getenv("REPORT_SLOW_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ms = n
		}
	}
	return ms
}

func logSlowReport(ctx context.Context, name string, started time.Time, extra map[string]any) {
	d := time.Since(started)
	if d.Milliseconds() < reportSlowMs() {
		return
	}
	clinicId, _ := utils.GetClinicIdFromContext(ctx)
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	log.Printf("slow_report name=%s ms=%d clinic_id=%s correlation_id=%s extra=%v", name, d.Milliseconds(), clinicId, cid, extra)
}

func cacheGet[T any](key string, dest *T) (bool, error) {
	return config.GetRedisObject(key, dest)
}

func cacheSet(key string, obj any, ttl time.Duration) error {
	return config.SetRedisObject(key, obj, ttl)
}
