package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go-pos-ledger/internal/database"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/models"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"gorm.io/gorm"
)

const (
	defaultModel = "gemini-2.0-flash-001"
	maxToolCalls = 4
)

var ErrUnknownTool = errors.New("unknown tool")

// Agent answers staff questions with read-only tools over the ledger.
// It never writes: prices, stock and payments only change through the API.
type Agent struct {
	db     *gorm.DB
	apiKey string
	model  string
}

// NewAgent returns nil when no API key is configured.
func NewAgent(db *gorm.DB, apiKey string) *Agent {
	if apiKey == "" {
		return nil
	}
	return &Agent{db: db, apiKey: apiKey, model: defaultModel}
}

var tools = []*genai.Tool{
	{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "check_inventory",
				Description: "Get the full inventory list. Use this to find ANY product details like ID, Name, Price, Cost, Stock or Unit.",
			},
			{
				Name:        "get_sales_report",
				Description: "Get sales revenue, discounts, order count and top sellers for a date range.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"start_date": {Type: genai.TypeString, Description: "Start date (YYYY-MM-DD)"},
						"end_date":   {Type: genai.TypeString, Description: "End date (YYYY-MM-DD)"},
					},
					Required: []string{"start_date", "end_date"},
				},
			},
			{
				Name:        "list_pending_payments",
				Description: "List UPI payments still waiting for confirmation, with their total.",
			},
			{
				Name:        "get_customer_debts",
				Description: "List customers who owe money and the total outstanding debt.",
			},
		},
	},
}

func systemPrompt(today string) string {
	return fmt.Sprintf(`Today is %s. You are a POS assistant for a shop.

RULES:
1. READ: If a user asks for PRICE, COST, STOCK, or DETAILS of a product, call 'check_inventory' and read the JSON.
2. SALES: If the user asks for sales/revenue, use 'get_sales_report'. Revenue is after discounts.
3. PAYMENTS: For unconfirmed UPI payments use 'list_pending_payments'.
4. DEBT: For customer credit or who owes money use 'get_customer_debts'.
5. You cannot change prices, stock, sales or payments. Tell the user to use the POS screens for that.
Amounts are in rupees.`, today)
}

// Ask runs one question through the model, resolving tool calls until the
// model answers in text.
func (a *Agent) Ask(ctx context.Context, message string) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(a.apiKey))
	if err != nil {
		return "", err
	}
	defer client.Close()

	model := client.GenerativeModel(a.model)
	model.Tools = tools
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt(time.Now().Format("2006-01-02")))},
	}

	session := model.StartChat()
	resp, err := session.SendMessage(ctx, genai.Text(message))
	if err != nil {
		return "", err
	}

	for round := 0; round < maxToolCalls; round++ {
		call, ok := firstFunctionCall(resp)
		if !ok {
			return printResponse(resp), nil
		}

		result, err := ExecuteTool(ctx, a.db, call.Name, call.Args)
		if err != nil {
			logger.Warn(ctx).Err(err).Str("tool", call.Name).Msg("Assistant tool failed")
			result = map[string]any{"error": err.Error()}
		}

		resp, err = session.SendMessage(ctx, genai.FunctionResponse{Name: call.Name, Response: result})
		if err != nil {
			return "", err
		}
	}
	return printResponse(resp), nil
}

// ExecuteTool runs a single read-only tool.
func ExecuteTool(ctx context.Context, db *gorm.DB, name string, args map[string]any) (map[string]any, error) {
	db = db.WithContext(ctx)

	switch name {
	case "check_inventory":
		var products []models.Product
		if err := db.Where("is_deleted = ?", false).Order("name").Find(&products).Error; err != nil {
			return nil, err
		}

		type simpleProduct struct {
			ID        uint   `json:"id"`
			Name      string `json:"name"`
			Category  string `json:"category"`
			Unit      string `json:"unit"`
			Stock     string `json:"stock"`
			Price     string `json:"price"`
			Wholesale string `json:"wholesale_price,omitempty"`
			Cost      string `json:"cost"`
			Active    bool   `json:"active"`
		}
		list := make([]simpleProduct, 0, len(products))
		for _, p := range products {
			sp := simpleProduct{
				ID:       p.ID,
				Name:     p.Name,
				Category: p.Category,
				Unit:     string(p.UnitType),
				Stock:    p.Stock.String(),
				Price:    p.RetailPrice.StringFixed(2),
				Cost:     p.CostPrice.StringFixed(2),
				Active:   p.Active,
			}
			if p.WholeSalePrice.Valid {
				sp.Wholesale = p.WholeSalePrice.Decimal.StringFixed(2)
			}
			list = append(list, sp)
		}
		return jsonResult("inventory", list)

	case "get_sales_report":
		start, err := parseDay(args, "start_date")
		if err != nil {
			return nil, err
		}
		end, err := parseDay(args, "end_date")
		if err != nil {
			return nil, err
		}
		end = end.Add(24*time.Hour - time.Nanosecond)

		report, err := database.GetSalesReport(db, start, end)
		if err != nil {
			return nil, err
		}
		top, err := database.GetTopSellers(db, start, end, 5)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"revenue":     report.TotalRevenue.StringFixed(2),
			"discounts":   report.TotalDiscount.StringFixed(2),
			"sales_count": report.TotalCount,
			"top_sellers": mustJSON(top),
		}, nil

	case "list_pending_payments":
		var pending []models.Payment
		if err := db.Where("status = ?", models.PaymentPending).Order("created_at").Limit(50).Find(&pending).Error; err != nil {
			return nil, err
		}
		total, count, err := database.GetPendingPayments(db)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"total":    total.StringFixed(2),
			"count":    count,
			"payments": mustJSON(pending),
		}, nil

	case "get_customer_debts":
		var owing []models.Customer
		if err := db.Where("debt_amount > 0").Order("debt_amount DESC").Limit(50).Find(&owing).Error; err != nil {
			return nil, err
		}
		total, err := database.GetOutstandingDebt(db)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"total_outstanding": total.StringFixed(2),
			"customers":         mustJSON(owing),
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

func parseDay(args map[string]any, key string) (time.Time, error) {
	s, _ := args[key].(string)
	day, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be in YYYY-MM-DD format", key)
	}
	return day, nil
}

func jsonResult(key string, v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return map[string]any{key: string(b)}, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func firstFunctionCall(resp *genai.GenerateContentResponse) (genai.FunctionCall, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return genai.FunctionCall{}, false
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if call, ok := part.(genai.FunctionCall); ok {
			return call, true
		}
	}
	return genai.FunctionCall{}, false
}

func printResponse(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "I could not find an answer."
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			return string(txt)
		}
	}
	return "I completed the action."
}
