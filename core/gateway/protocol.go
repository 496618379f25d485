package gateway

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/strategy"
)

// PriceBlock is a block as sent to plugins.
type PriceBlock struct {
	BlockStart      time.Time `json:"block_start"`
	DurationMinutes int       `json:"duration_minutes"`
	Price           float64   `json:"price_per_kwh"`
	EffectivePrice  float64   `json:"effective_price_per_kwh"`
}

// BatteryState is the battery model and SOC as sent to plugins.
type BatteryState struct {
	CurrentSOC     float64 `json:"current_soc_percent"`
	CapacityKWh    float64 `json:"capacity_kwh"`
	MaxChargeKW    float64 `json:"max_charge_rate_kw"`
	MaxDischargeKW float64 `json:"max_discharge_rate_kw"`
	MinSOC         float64 `json:"min_soc_percent"`
	MaxSOC         float64 `json:"max_soc_percent"`
	HardwareMinSOC float64 `json:"hardware_min_soc_percent"`
	Efficiency     float64 `json:"efficiency"`
	WearCostPerKWh float64 `json:"wear_cost_per_kwh"`
}

// ForecastData summarizes the forecast for the evaluated block.
type ForecastData struct {
	SolarKWh        float64 `json:"solar_kwh"`
	ConsumptionKWh  float64 `json:"consumption_kwh"`
	GridExportPrice float64 `json:"grid_export_price_per_kwh"`
}

// DayProfile summarizes the price statistics of the horizon.
type DayProfile struct {
	Mean           float64 `json:"mean"`
	StdDev         float64 `json:"std_dev"`
	P25            float64 `json:"p25"`
	P75            float64 `json:"p75"`
	Volatile       bool    `json:"volatile"`
	NegativePrices bool    `json:"negative_prices"`
}

// EvaluationRequest is POSTed to a plugin once per block.
type EvaluationRequest struct {
	Block   PriceBlock   `json:"block"`
	Battery BatteryState `json:"battery"`
	// Forecast covers the evaluated block.
	Forecast ForecastData `json:"forecast"`
	// AllBlocks lists the evaluated block and every block after it.
	AllBlocks             []PriceBlock     `json:"all_blocks"`
	Historical            model.Historical `json:"historical"`
	Profile               DayProfile       `json:"day_profile"`
	BackupDischargeMinSOC float64          `json:"backup_discharge_min_soc"`
}

// BlockDecision is a plugin's answer.
type BlockDecision struct {
	BlockStart      time.Time `json:"block_start"`
	DurationMinutes int       `json:"duration_minutes"`
	Mode            string    `json:"mode"`
	Reason          string    `json:"reason"`
	Priority        int       `json:"priority"`
	StrategyName    string    `json:"strategy_name,omitempty"`
	Confidence      *float64  `json:"confidence,omitempty"`
	ExpectedProfit  *float64  `json:"expected_profit,omitempty"`
	DecisionID      string    `json:"decision_id,omitempty"`
}

// PluginManifest describes an external strategy.
type PluginManifest struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	Description     string `json:"description"`
	DefaultPriority int    `json:"default_priority"`
	Enabled         *bool  `json:"enabled,omitempty"`
}

// RegistrationRequest registers or updates a plugin.
type RegistrationRequest struct {
	Manifest    PluginManifest `json:"manifest"`
	CallbackURL string         `json:"callback_url"`
}

// RegistrationResponse is returned by the registration endpoint.
type RegistrationResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	PluginID string `json:"plugin_id,omitempty"`
}

// Validate checks the registration request.
func (r RegistrationRequest) Validate() error {
	if r.Manifest.Name == "" {
		return fmt.Errorf("manifest name is required")
	}
	if r.Manifest.DefaultPriority < 0 || r.Manifest.DefaultPriority > 100 {
		return fmt.Errorf("default_priority must be within 0..100")
	}
	u, err := url.Parse(r.CallbackURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("callback_url must be an absolute http(s) URL")
	}
	return nil
}

// IsEnabled reports the manifest's enabled flag, true when unset.
func (m PluginManifest) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

func wireBlock(b model.ScheduleBlock) PriceBlock {
	return PriceBlock{
		BlockStart:      b.Start,
		DurationMinutes: int(b.Duration / time.Minute),
		Price:           b.Price,
		EffectivePrice:  b.EffectivePrice,
	}
}

// NewEvaluationRequest builds the request for one strategy input.
func NewEvaluationRequest(in strategy.Input) EvaluationRequest {
	rest := in.All
	if in.Index >= 0 && in.Index < len(in.All) {
		rest = in.All[in.Index:]
	}
	all := make([]PriceBlock, len(rest))
	for i, b := range rest {
		all[i] = wireBlock(b)
	}
	load, _ := in.Forecast.Consumption(in.Index)
	export := in.Forecast.ExportPrice
	if export == 0 {
		export = in.Block.Price
	}
	bm := in.Battery
	return EvaluationRequest{
		Block: wireBlock(in.Block),
		Battery: BatteryState{
			CurrentSOC:     in.State.SOC,
			CapacityKWh:    bm.CapacityKWh,
			MaxChargeKW:    bm.MaxChargeKW,
			MaxDischargeKW: bm.MaxDischargeKW,
			MinSOC:         bm.MinSOC,
			MaxSOC:         bm.MaxSOC,
			HardwareMinSOC: bm.HardwareMinSOC,
			Efficiency:     bm.Efficiency,
			WearCostPerKWh: bm.WearCostPerKWh,
		},
		Forecast: ForecastData{
			SolarKWh:        in.Forecast.Solar(in.Index),
			ConsumptionKWh:  load,
			GridExportPrice: export,
		},
		AllBlocks:  all,
		Historical: in.Historical,
		Profile: DayProfile{
			Mean:           in.Profile.Mean,
			StdDev:         in.Profile.StdDev,
			P25:            in.Profile.P25,
			P75:            in.Profile.P75,
			Volatile:       in.Profile.Volatile,
			NegativePrices: in.Profile.NegativePrices,
		},
		BackupDischargeMinSOC: bm.HardwareMinSOC,
	}
}

// ToDecision validates the answer against the evaluated block.
func (d BlockDecision) ToDecision(plugin string, b model.ScheduleBlock) (model.StrategyDecision, error) {
	if !d.BlockStart.Equal(b.Start) {
		return model.StrategyDecision{}, &model.PluginProtocolError{Plugin: plugin,
			Reason: fmt.Sprintf("block_start %s does not match %s", d.BlockStart.Format(time.RFC3339), b.Start.Format(time.RFC3339))}
	}
	if d.DurationMinutes != int(b.Duration/time.Minute) {
		return model.StrategyDecision{}, &model.PluginProtocolError{Plugin: plugin,
			Reason: fmt.Sprintf("duration_minutes %d does not match %d", d.DurationMinutes, int(b.Duration/time.Minute))}
	}
	mode, err := model.ParseOperationMode(d.Mode)
	if err != nil {
		return model.StrategyDecision{}, &model.PluginProtocolError{Plugin: plugin, Reason: err.Error()}
	}
	if d.Priority < 0 || d.Priority > 100 {
		return model.StrategyDecision{}, &model.PluginProtocolError{Plugin: plugin, Reason: fmt.Sprintf("priority %d out of range", d.Priority)}
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return model.StrategyDecision{}, &model.PluginProtocolError{Plugin: plugin, Reason: "confidence must be within 0..1"}
	}
	name := d.StrategyName
	if name == "" {
		name = plugin
	}
	return model.StrategyDecision{
		BlockStart:     b.Start,
		Duration:       b.Duration,
		Mode:           mode,
		Priority:       uint8(d.Priority),
		Reason:         d.Reason,
		Confidence:     d.Confidence,
		ExpectedProfit: d.ExpectedProfit,
		DecisionID:     d.DecisionID,
		StrategyName:   name,
	}, nil
}
