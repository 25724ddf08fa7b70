package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/mattjoyce/tradestream/internal/tools"
	"github.com/mattjoyce/tradestream/internal/view"
)

// ShowPanelTool is the one tool the relay answers itself. Its result is the
// show_panel action the client dispatches, so running it has no side effects.
type ShowPanelTool struct{}

var _ tool.InvokableTool = (*ShowPanelTool)(nil)

// Info returns tool metadata for model planning.
func (t *ShowPanelTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: tools.ActionShowPanel,
		Desc: "Switch the user's screen to a content panel, optionally selecting a ticker symbol.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"panel": {
				Type:     schema.String,
				Desc:     "Panel to open",
				Enum:     view.PanelKeys(),
				Required: true,
			},
			"symbol": {
				Type: schema.String,
				Desc: "Ticker symbol to select, e.g. AAPL",
			},
		}),
	}, nil
}

// InvokableRun validates the requested panel and echoes it as an action.
func (t *ShowPanelTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Panel  string `json:"panel"`
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("parse show_panel arguments: %w", err)
	}
	if args.Panel == "" {
		return "", fmt.Errorf("show_panel.panel is required")
	}

	result := map[string]string{
		"action": tools.ActionShowPanel,
		"panel":  args.Panel,
	}
	if sym := strings.TrimSpace(args.Symbol); sym != "" {
		result["symbol"] = sym
	}
	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal show_panel output: %w", err)
	}
	return string(out), nil
}
