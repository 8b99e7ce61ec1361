package integrations

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// SubtitleEntry is one subtitle file in an export or compatibility report.
type SubtitleEntry struct {
	VideoPath    string `json:"videoPath"`
	SubtitlePath string `json:"subtitlePath"`
	Language     string `json:"language"`
	Forced       bool   `json:"forced"`
	Format       string `json:"format"`
}

// MappingReport correlates manager libraries with local paths so users can
// spot path-mapping mistakes between containers.
type MappingReport struct {
	GeneratedAt time.Time           `json:"generatedAt"`
	Instances   []MappingInstance   `json:"instances"`
}

// MappingInstance summarizes one manager's library paths.
type MappingInstance struct {
	Name      string   `json:"name"`
	ItemCount int      `json:"itemCount"`
	RootPaths []string `json:"rootPaths"`
	Error     string   `json:"error,omitempty"`
}

// BuildMappingReport enumerates each manager and collects the distinct
// parent directories its items live under.
func (f *Facade) BuildMappingReport(ctx context.Context) *MappingReport {
	report := &MappingReport{GeneratedAt: time.Now().UTC()}

	if f.sonarr != nil {
		inst := MappingInstance{Name: "sonarr"}
		series, err := f.sonarr.ListSeries(ctx)
		if err != nil {
			inst.Error = err.Error()
		} else {
			roots := make(map[string]struct{})
			for _, s := range series {
				if s.Path != "" {
					roots[filepath.Dir(s.Path)] = struct{}{}
				}
			}
			inst.ItemCount = len(series)
			inst.RootPaths = sortedKeys(roots)
		}
		report.Instances = append(report.Instances, inst)
	}

	if f.radarr != nil {
		inst := MappingInstance{Name: "radarr"}
		movies, err := f.radarr.ListMovies(ctx)
		if err != nil {
			inst.Error = err.Error()
		} else {
			roots := make(map[string]struct{})
			for _, m := range movies {
				if m.Path != "" {
					roots[filepath.Dir(m.Path)] = struct{}{}
				}
			}
			inst.ItemCount = len(movies)
			inst.RootPaths = sortedKeys(roots)
		}
		report.Instances = append(report.Instances, inst)
	}

	return report
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CompatIssue flags one subtitle whose naming a media server will not pick
// up.
type CompatIssue struct {
	SubtitlePath string `json:"subtitlePath"`
	Problem      string `json:"problem"`
}

var langTagRe = regexp.MustCompile(`^[a-z]{2,3}$`)

// CheckCompatibility validates sidecar naming against what Plex and Kodi
// expect: `<video base>.<iso lang>[.forced].<ext>` with a lowercase tag.
// Both servers share the convention, so flavor only selects the report
// label.
func CheckCompatibility(flavor string, entries []SubtitleEntry) []CompatIssue {
	issues := make([]CompatIssue, 0)
	for _, e := range entries {
		base := strings.TrimSuffix(filepath.Base(e.VideoPath), filepath.Ext(e.VideoPath))
		name := filepath.Base(e.SubtitlePath)

		if !strings.HasPrefix(name, base+".") {
			issues = append(issues, CompatIssue{
				SubtitlePath: e.SubtitlePath,
				Problem:      fmt.Sprintf("%s requires the subtitle to share the video's base name", flavor),
			})
			continue
		}

		rest := strings.TrimSuffix(strings.TrimPrefix(name, base+"."), filepath.Ext(name))
		rest = strings.TrimSuffix(rest, ".forced")
		if !langTagRe.MatchString(rest) {
			issues = append(issues, CompatIssue{
				SubtitlePath: e.SubtitlePath,
				Problem:      fmt.Sprintf("language tag %q is not a lowercase ISO code", rest),
			})
		}
	}
	return issues
}

// ExportFormat selects the serialization of an export.
type ExportFormat string

const (
	ExportJSON   ExportFormat = "json"
	ExportBazarr ExportFormat = "bazarr"
	ExportPlex   ExportFormat = "plex"
	ExportKodi   ExportFormat = "kodi"
)

// Export serializes a subtitle inventory in the requested format. The
// bazarr form mirrors its history CSV so the list can be re-imported; plex
// and kodi forms are line-oriented path lists their scanners accept.
func Export(format ExportFormat, entries []SubtitleEntry) ([]byte, string, error) {
	switch format {
	case ExportJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil

	case ExportBazarr:
		var b strings.Builder
		b.WriteString("video,subtitle,language,forced,format\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "%s,%s,%s,%t,%s\n", e.VideoPath, e.SubtitlePath, e.Language, e.Forced, e.Format)
		}
		return []byte(b.String()), "text/csv", nil

	case ExportPlex, ExportKodi:
		var b strings.Builder
		for _, e := range entries {
			b.WriteString(e.SubtitlePath)
			b.WriteByte('\n')
		}
		return []byte(b.String()), "text/plain", nil

	default:
		return nil, "", fmt.Errorf("unknown export format %q", format)
	}
}

// ExportZip bundles every format into one archive.
func ExportZip(entries []SubtitleEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := map[string]ExportFormat{
		"subtitles.json":       ExportJSON,
		"subtitles.bazarr.csv": ExportBazarr,
		"subtitles.plex.txt":   ExportPlex,
		"subtitles.kodi.txt":   ExportKodi,
	}
	for name, format := range files {
		data, _, err := Export(format, entries)
		if err != nil {
			return nil, err
		}
		w, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
