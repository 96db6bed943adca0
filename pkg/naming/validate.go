package naming

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// MismatchKind classifies one naming-template advisory finding.
type MismatchKind string

const (
	MismatchSeparator    MismatchKind = "separator_mismatch"
	MismatchVersionToken MismatchKind = "version_token_mismatch"
	MismatchNameToken    MismatchKind = "name_token_mismatch"
)

// Mismatch is one structured finding from ValidateTemplates.
type Mismatch struct {
	Kind           MismatchKind `json:"kind"`
	Detail         string       `json:"detail"`
	Recommendation string       `json:"recommendation"`
}

// ValidationReport is the result of the advisory validate-templates
// operation. It never fails the build (spec.md §4.3): Status is "ok" or
// "warning", never an error.
type ValidationReport struct {
	Status    string     `json:"status"`
	Mismatches []Mismatch `json:"mismatches"`
}

// goreleaserConfig is the small slice of a .goreleaser.yaml this advisory
// check cares about.
type goreleaserConfig struct {
	Builds []struct {
		Goos   []string `json:"goos"`
		Goarch []string `json:"goarch"`
	} `json:"builds"`
	Archives []struct {
		NameTemplate string `json:"name_template"`
	} `json:"archives"`
}

// LoadGoreleaserSibling reads and parses a .goreleaser.yaml file if it
// exists at the given path, returning (nil, nil) if it does not.
func LoadGoreleaserSibling(path string) (*goreleaserConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("naming: reading goreleaser sibling %q: %w", path, err)
	}
	var cfg goreleaserConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("naming: parsing goreleaser sibling %q: %w", path, err)
	}
	return &cfg, nil
}

// ValidateTemplates compares dsr's own templates against an optional
// scraped template (e.g. from a goreleaser archive name_template, or from a
// workflow file) and the install-script compat template, reporting
// structured mismatches. It never returns an error for a mismatch; only for
// a malformed template string.
func ValidateTemplates(versionedTmpl, compatTmpl string, scraped ...string) (*ValidationReport, error) {
	report := &ValidationReport{Status: "ok"}

	vt, err := Parse(orDefault(versionedTmpl, DefaultVersionedTemplate))
	if err != nil {
		return nil, err
	}
	ct, err := Parse(orDefault(compatTmpl, DefaultCompatTemplate))
	if err != nil {
		return nil, err
	}

	if vt.usesVar("version") && !ct.usesVar("version") {
		report.Mismatches = append(report.Mismatches, Mismatch{
			Kind:           MismatchVersionToken,
			Detail:         "the versioned template includes ${version} but the compat/install-script template does not",
			Recommendation: "this is expected for a compat name; confirm any installer script that hard-codes the unversioned filename is intentional",
		})
	}

	versionedSep := separatorOf(orDefault(versionedTmpl, DefaultVersionedTemplate))
	for _, s := range scraped {
		if s == "" {
			continue
		}
		st, err := Parse(s)
		if err != nil {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Kind:           MismatchNameToken,
				Detail:         fmt.Sprintf("scraped template %q could not be parsed as a dsr-style template: %v", s, err),
				Recommendation: "review the upstream workflow/goreleaser template manually",
			})
			continue
		}
		if sep := separatorOf(s); sep != "" && sep != versionedSep {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Kind:           MismatchSeparator,
				Detail:         fmt.Sprintf("scraped template uses separator %q, dsr's versioned template uses %q", sep, versionedSep),
				Recommendation: "align the separator used between name/version/os/arch tokens across both templates",
			})
		}
		if st.usesVar("name") != vt.usesVar("name") {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Kind:           MismatchNameToken,
				Detail:         "scraped template and dsr's versioned template disagree on whether the tool name is part of the asset name",
				Recommendation: "add or remove ${name} from one of the templates so installers can find the right asset",
			})
		}
	}

	if len(report.Mismatches) > 0 {
		report.Status = "warning"
	}
	return report, nil
}

// separatorOf returns the first of "-", "_" and "." (checked in that order)
// that occurs anywhere in a template string, used for a crude
// separator-style comparison.
func separatorOf(tmpl string) string {
	for _, r := range []string{"-", "_", "."} {
		if strings.Contains(tmpl, r) {
			return r
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
