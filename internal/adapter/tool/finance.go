package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel/trace"

	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/tracer"
)

// BudgetCategories are the spending categories the financial service knows.
var BudgetCategories = []string{
	"streaming", "food", "utilities", "entertainment", "shopping",
	"subscriptions", "bills", "transportation", "health", "other",
}

const uncategorized = "uncategorized"

var categoryEnumJSON = mustJSON(BudgetCategories)

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// --- get_spending_summary ---

// SpendingSummaryTool aggregates expenses from the financial service.
type SpendingSummaryTool struct {
	finance domain.FinanceService
	logger  *slog.Logger
}

// NewSpendingSummaryTool creates the get_spending_summary tool.
func NewSpendingSummaryTool(finance domain.FinanceService, logger *slog.Logger) *SpendingSummaryTool {
	return &SpendingSummaryTool{finance: finance, logger: logger}
}

func (t *SpendingSummaryTool) Name() string { return "get_spending_summary" }
func (t *SpendingSummaryTool) Description() string {
	return "Get the user's recorded spending across all transactions: total spent, breakdown by category and transaction count. Use for questions about spending, budgets or money."
}

func (t *SpendingSummaryTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"category": {"type": "string", "enum": ` + categoryEnumJSON + `, "description": "Optional: only report this category"}
			}
		}`),
	}
}

type spendingParams struct {
	Category string `json:"category,omitempty"`
}

// categoryTotal is one row of the by_category breakdown.
type categoryTotal struct {
	Category string
	Spent    float64
}

// categoryTotals marshals as a JSON object whose keys keep slice order.
type categoryTotals []categoryTotal

func (c categoryTotals) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ct := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ct.Category)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(ct.Spent, 'f', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type spendingSummary struct {
	TotalSpent       float64        `json:"total_spent"`
	ByCategory       categoryTotals `json:"by_category"`
	TransactionCount int            `json:"transaction_count"`
	Message          string         `json:"message,omitempty"`
}

type categorySpending struct {
	Category         string  `json:"category"`
	Spent            float64 `json:"spent"`
	TransactionCount int     `json:"transaction_count"`
	TotalSpent       float64 `json:"total_spent"`
}

func (t *SpendingSummaryTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_spending_summary", t.logger, params,
		func(ctx context.Context, span trace.Span, p spendingParams) (any, error) {
			if err := ValidateEnum("category", p.Category, BudgetCategories...); err != nil {
				return nil, err
			}
			txns, err := t.finance.ListTransactions(ctx)
			if err != nil {
				return nil, fmt.Errorf("could not fetch transaction data: %w", err)
			}
			span.SetAttributes(tracer.IntAttr("finance.transactions", len(txns)))

			if len(txns) == 0 {
				return spendingSummary{ByCategory: categoryTotals{}, Message: "No transactions found"}, nil
			}
			return summarizeSpending(txns, p.Category), nil
		},
	)
}

// summarizeSpending sums expenses (negative amounts) per category. With a
// category filter it reports that category against the overall total.
func summarizeSpending(txns []domain.Transaction, category string) any {
	totals := make(map[string]float64)
	var total float64
	for _, tx := range txns {
		if tx.Amount >= 0 {
			continue
		}
		spent := -tx.Amount
		total += spent
		cat := tx.Category
		if cat == "" {
			cat = uncategorized
		}
		totals[cat] += spent
	}

	if category != "" {
		count := 0
		for _, tx := range txns {
			if tx.Category == category {
				count++
			}
		}
		return categorySpending{
			Category:         category,
			Spent:            round2(totals[category]),
			TransactionCount: count,
			TotalSpent:       round2(total),
		}
	}

	rows := make(categoryTotals, 0, len(totals))
	for cat, v := range totals {
		rows = append(rows, categoryTotal{Category: cat, Spent: round2(v)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Spent != rows[j].Spent {
			return rows[i].Spent > rows[j].Spent
		}
		return rows[i].Category < rows[j].Category
	})
	return spendingSummary{
		TotalSpent:       round2(total),
		ByCategory:       rows,
		TransactionCount: len(txns),
	}
}

// --- get_budget_status ---

// BudgetStatusTool reports budgets against current spending.
type BudgetStatusTool struct {
	finance domain.FinanceService
	logger  *slog.Logger
}

// NewBudgetStatusTool creates the get_budget_status tool.
func NewBudgetStatusTool(finance domain.FinanceService, logger *slog.Logger) *BudgetStatusTool {
	return &BudgetStatusTool{finance: finance, logger: logger}
}

func (t *BudgetStatusTool) Name() string { return "get_budget_status" }
func (t *BudgetStatusTool) Description() string {
	return "Get the user's budget limits and spending against them: limit, spent, remaining and percentage used per category."
}

func (t *BudgetStatusTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

type budgetView struct {
	Category     string  `json:"category"`
	MonthlyLimit float64 `json:"monthly_limit"`
	Spent        float64 `json:"spent"`
	Remaining    float64 `json:"remaining"`
	PercentUsed  float64 `json:"percent_used"`
}

func (t *BudgetStatusTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_budget_status", t.logger, params,
		func(ctx context.Context, _ trace.Span, _ struct{}) (any, error) {
			budgets, err := t.finance.ListBudgets(ctx)
			if err != nil {
				return nil, fmt.Errorf("could not fetch budgets: %w", err)
			}
			if len(budgets) == 0 {
				return map[string]any{"budgets": []budgetView{}, "message": "No budgets created yet"}, nil
			}

			views := make([]budgetView, 0, len(budgets))
			for _, b := range budgets {
				limit := b.EffectiveLimit()
				v := budgetView{
					Category:     b.Category,
					MonthlyLimit: limit,
					Spent:        round2(b.Spent),
					Remaining:    round2(limit - b.Spent),
				}
				if limit > 0 {
					v.PercentUsed = math.Round(b.Spent / limit * 1000) / 10
				}
				views = append(views, v)
			}
			return map[string]any{"budgets": views, "count": len(views)}, nil
		},
	)
}

// --- create_budget ---

// CreateBudgetTool creates a monthly budget in the financial service.
type CreateBudgetTool struct {
	finance domain.FinanceService
	logger  *slog.Logger
}

// NewCreateBudgetTool creates the create_budget tool.
func NewCreateBudgetTool(finance domain.FinanceService, logger *slog.Logger) *CreateBudgetTool {
	return &CreateBudgetTool{finance: finance, logger: logger}
}

func (t *CreateBudgetTool) Name() string { return "create_budget" }
func (t *CreateBudgetTool) Description() string {
	return "Create a monthly budget limit for a spending category. Use when the user wants to set a spending limit."
}

func (t *CreateBudgetTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"category": {"type": "string", "enum": ` + categoryEnumJSON + `, "description": "Budget category"},
				"amount": {"type": "number", "description": "Monthly limit in dollars (e.g. 100.00)"},
				"period": {"type": "string", "enum": ["monthly"], "description": "Budget period (default: monthly)"}
			},
			"required": ["category", "amount"]
		}`),
	}
}

type createBudgetParams struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
	Period   string  `json:"period,omitempty"`
}

func (t *CreateBudgetTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.create_budget", t.logger, params,
		func(ctx context.Context, span trace.Span, p createBudgetParams) (any, error) {
			if err := ValidateAll(
				RequireField("category", p.Category),
				ValidateEnum("category", p.Category, BudgetCategories...),
				ValidatePositiveAmount("amount", p.Amount),
				ValidateEnum("period", p.Period, "monthly"),
			); err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("finance.category", p.Category))

			budget, err := t.finance.CreateBudget(ctx, p.Category, p.Amount)
			if err != nil {
				return nil, fmt.Errorf("failed to create budget: %w", err)
			}
			if len(budget) == 0 {
				budget = emptyObject
			}
			return map[string]any{
				"success": true,
				"budget":  budget,
				"message": fmt.Sprintf("Created $%s/month budget for %s",
					strconv.FormatFloat(p.Amount, 'f', -1, 64), p.Category),
			}, nil
		},
	)
}
