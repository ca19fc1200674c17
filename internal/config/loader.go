// Package config loads the XP rule and reward catalog configuration from
// CUE files, and the service settings from YAML.
//
// The CUE side is declarative game design owned by whoever tunes the
// program: award amounts, purchase bands, level thresholds, tiers, and the
// reward catalog. The YAML side is deployment plumbing: addresses, paths,
// secrets. Keeping them separate means a rules tweak never touches a
// secret and vice versa.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/moodmnky/dojo/internal/rules"
	"github.com/moodmnky/dojo/internal/store"
)

// LoadMode controls how errors are handled during config loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the results of loading config from a directory.
type LoadResult struct {
	Rules     rules.Snapshot
	Rewards   []store.RewardRecord
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred during config loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	// Rules validation errors
	ErrCodeBadSource    = "E101" // Invalid xp source rule
	ErrCodeBadPurchase  = "E102" // Invalid purchase band
	ErrCodeBadLevels    = "E103" // Invalid level thresholds
	ErrCodeBadTiers     = "E104" // Invalid tier bands
	ErrCodeBadReward    = "E105" // Invalid reward definition
	ErrCodeBadSnapshot  = "E106" // Snapshot failed structural validation
)

// LoadRules loads the rule snapshot and reward catalog from a directory of
// CUE files. Blocks the directory omits fall back to built-in defaults, so
// an empty-but-valid config dir yields exactly rules.Defaults with no
// rewards.
//
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadRules(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing config directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		Rules:     rules.Defaults(),
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	type block struct {
		path  string
		code  string
		parse func(cue.Value) error
	}
	blocks := []block{
		{"xp", ErrCodeBadSource, func(v cue.Value) error {
			sources, err := parseSources(v)
			if err == nil {
				result.Rules.Sources = sources
			}
			return err
		}},
		{"purchase", ErrCodeBadPurchase, func(v cue.Value) error {
			bands, err := parsePurchaseBands(v)
			if err == nil {
				result.Rules.PurchaseBands = bands
			}
			return err
		}},
		{"levels", ErrCodeBadLevels, func(v cue.Value) error {
			thresholds, err := parseLevelThresholds(v)
			if err == nil {
				result.Rules.LevelThresholds = thresholds
			}
			return err
		}},
		{"tiers", ErrCodeBadTiers, func(v cue.Value) error {
			tiers, err := parseTiers(v)
			if err == nil {
				result.Rules.Tiers = tiers
			}
			return err
		}},
		{"reward", ErrCodeBadReward, func(v cue.Value) error {
			rewards, err := parseRewards(v)
			if err == nil {
				result.Rewards = rewards
			}
			return err
		}},
	}

	for _, b := range blocks {
		blockVal := value.LookupPath(cue.ParsePath(b.path))
		if !blockVal.Exists() {
			continue
		}
		if err := b.parse(blockVal); err != nil {
			errs = append(errs, convertParseError(err, b.code))
			if mode == LoadModeFailFast {
				return result, errs
			}
		}
	}

	if err := result.Rules.Validate(); err != nil {
		errs = append(errs, &LoadError{Code: ErrCodeBadSnapshot, Message: err.Error()})
	}

	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertParseError converts a parse error to a LoadError with position info.
func convertParseError(err error, code string) *LoadError {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return &LoadError{
			Code:    code,
			Message: parseErr.Field + ": " + parseErr.Message,
			Pos:     parseErr.Pos,
		}
	}
	return &LoadError{Code: code, Message: err.Error()}
}
