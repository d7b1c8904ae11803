package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"MarketMaker/internal/domain/models"
)

// ErrInvalidProfile is returned when a profile file fails to parse or validate.
var ErrInvalidProfile = errors.New("invalid scenario profile")

var validate = validator.New()

// ParseProfile decodes a YAML or JSON profile, applies defaults and validates it.
func ParseProfile(data []byte) (*models.ScenarioProfile, error) {
	var p models.ScenarioProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidProfile, err)
	}
	if err := defaults.Set(&p); err != nil {
		return nil, fmt.Errorf("%w: defaults: %v", ErrInvalidProfile, err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProfile, p.ScenarioID, err)
	}
	return &p, nil
}

// LoadProfile reads one profile file.
func LoadProfile(path string) (*models.ScenarioProfile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	p, err := ParseProfile(b)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", filepath.Base(path), err)
	}
	return p, nil
}

// LoadDir loads every profile in dir. Invalid files are reported and skipped.
func LoadDir(dir string) ([]*models.ScenarioProfile, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("read profile dir: %w", err)}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		profiles []*models.ScenarioProfile
		errs     []error
	)
	for _, name := range names {
		p, err := LoadProfile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, errs
}

// DefaultProfile returns the built-in conservative profile.
func DefaultProfile() *models.ScenarioProfile {
	return &models.ScenarioProfile{
		ScenarioID:  DefaultProfileID,
		Description: "conservative fallback",
		DetectionSignature: &models.DetectionSignature{
			SpreadRange:     models.Range{0.25, 1.0},
			DepthRange:      models.Range{3000, 15000},
			VolatilityRange: models.Range{0.0005, 0.003},
		},
		BaseParams: &models.BaseParams{
			TickSize:          0.25,
			CalibrationSteps:  300,
			InventoryWarning:  2000,
			InventoryDanger:   3500,
			InventoryCritical: 4500,
		},
		RegimeThresholds: &models.RegimeThresholds{
			CrashSpreadMultiplier:    3.0,
			StressedSpreadMultiplier: 1.8,
			HFTDepthRatio:            0.5,
			CrashPriceVelocity:       2.0,
			CrashSpreadVelocity:      1.0,
			CrashDepthCollapse:       0.3,
		},
		RegimeStrategies: &models.RegimeStrategies{
			Normal: &models.StrategyParams{
				TradeFrequency: 50, OrderSize: 200, MaxInventory: 2500,
				SpreadCapture: models.Bool(true), Compete: models.Bool(true), AggressiveJoin: models.Bool(true),
			},
			HFT: &models.StrategyParams{
				TradeFrequency: 150, OrderSize: 100, MaxInventory: 1000,
				SpreadCapture: models.Bool(true), Compete: models.Bool(false), AggressiveJoin: models.Bool(true),
			},
			Stressed: &models.StrategyParams{
				TradeFrequency: 100, OrderSize: 200, MaxInventory: 2000,
				SpreadCapture: models.Bool(true), Compete: models.Bool(true), AggressiveJoin: models.Bool(true),
			},
			Crash: &models.StrategyParams{
				TradeFrequency: 1, OrderSize: 500, MaxInventory: 200,
				SpreadCapture: models.Bool(false), Compete: models.Bool(false), AggressiveJoin: models.Bool(true),
				UnwindOnly: true,
			},
		},
	}
}
