package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/gjson"

	"github.com/seedclub/seednet-mcp/internal/apiclient"
)

func registerDomainTools(server *mcp.Server, d *Deps) {
	c := d.Client

	// Deals

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_deal",
		Description: "Create a new deal in Seed Network. Requires name and summary. Returns the created deal with ID and slug.",
	}, apiHandler(d, "create_deal",
		func(ctx context.Context, in CreateDealInput) (*apiclient.Result, error) {
			return c.Post(ctx, "/deals", in)
		},
		func(_ CreateDealInput, body []byte) any {
			return pick(body, map[string]string{
				"id":        "deal.id",
				"slug":      "deal.slug",
				"name":      "deal.name",
				"summary":   "deal.summary",
				"state":     "deal.state",
				"createdAt": "deal.createdAt",
				"message":   "message",
			})
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_deal",
		Description: "Update an existing deal's fields. Specify the deal ID and the fields to update.",
	}, apiHandler(d, "update_deal",
		func(ctx context.Context, in UpdateDealInput) (*apiclient.Result, error) {
			return c.Patch(ctx, "/deals", in)
		},
		func(_ UpdateDealInput, body []byte) any {
			return pick(body, map[string]string{
				"success":   "success",
				"dealId":    "deal.id",
				"updated":   "updated",
				"updatedAt": "deal.updatedAt",
			})
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_deal",
		Description: "Get a specific deal by ID or slug. Returns full deal details and associated research.",
	}, apiHandler(d, "get_deal",
		func(ctx context.Context, in GetDealInput) (*apiclient.Result, error) {
			return c.Get(ctx, "/deals", map[string]string{"id": in.DealID, "slug": in.Slug})
		},
		func(_ GetDealInput, body []byte) any {
			out := pick(body, map[string]string{"deal": "deal"})
			out["research"] = listOrEmpty(body, "research")
			return out
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_deals",
		Description: "List deals with optional filters. Can filter by stage or sector.",
	}, apiHandler(d, "list_deals",
		func(ctx context.Context, in ListDealsInput) (*apiclient.Result, error) {
			return c.Get(ctx, "/deals", map[string]string{
				"stage":  in.Stage,
				"sector": in.Sector,
				"limit":  limitParam(in.Limit),
			})
		},
		func(_ ListDealsInput, body []byte) any {
			return pick(body, map[string]string{"deals": "deals", "total": "total"})
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_deals",
		Description: "Full-text search across deals. Searches name, summary, and slug.",
	}, apiHandler(d, "search_deals",
		func(ctx context.Context, in SearchInput) (*apiclient.Result, error) {
			return c.Get(ctx, "/deals", map[string]string{"search": in.Query, "limit": limitParam(in.Limit)})
		},
		func(in SearchInput, body []byte) any {
			out := pick(body, map[string]string{"deals": "deals", "total": "total"})
			out["query"] = rawString(in.Query)
			return out
		}))

	// Companies

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_company",
		Description: "Create a new company in the Seed Network knowledge base. Companies are collaborative entities that anyone can contribute to via enrichments.",
	}, apiHandler(d, "create_company",
		func(ctx context.Context, in CreateCompanyInput) (*apiclient.Result, error) {
			return c.Post(ctx, "/companies", in)
		},
		func(_ CreateCompanyInput, body []byte) any {
			return pick(body, map[string]string{
				"id":         "company.id",
				"slug":       "company.slug",
				"name":       "company.name",
				"tagline":    "company.tagline",
				"stage":      "company.stage",
				"industries": "company.industries",
				"createdAt":  "company.createdAt",
				"message":    "message",
			})
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_company",
		Description: "Update an existing company's fields. For curator review of changes, use add_enrichment instead.",
	}, apiHandler(d, "update_company",
		func(ctx context.Context, in UpdateCompanyInput) (*apiclient.Result, error) {
			return c.Patch(ctx, "/companies", in)
		},
		func(_ UpdateCompanyInput, body []byte) any {
			return pick(body, map[string]string{
				"success":   "success",
				"companyId": "company.id",
				"updated":   "updated",
				"updatedAt": "company.updatedAt",
			})
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_company",
		Description: "Get a specific company by ID or slug. Returns full company details, associated research, and any linked deals.",
	}, apiHandler(d, "get_company",
		func(ctx context.Context, in GetCompanyInput) (*apiclient.Result, error) {
			return c.Get(ctx, "/companies", map[string]string{"id": in.CompanyID, "slug": in.Slug})
		},
		func(_ GetCompanyInput, body []byte) any {
			out := pick(body, map[string]string{"company": "company"})
			out["research"] = listOrEmpty(body, "research")
			out["deals"] = listOrEmpty(body, "deals")
			return out
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_companies",
		Description: "List companies with optional filters. Can filter by stage or industry.",
	}, apiHandler(d, "list_companies",
		func(ctx context.Context, in ListCompaniesInput) (*apiclient.Result, error) {
			return c.Get(ctx, "/companies", map[string]string{
				"stage":    in.Stage,
				"industry": in.Industry,
				"limit":    limitParam(in.Limit),
			})
		},
		func(_ ListCompaniesInput, body []byte) any {
			return pick(body, map[string]string{"companies": "companies", "total": "total"})
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_companies",
		Description: "Full-text search across companies. Searches name, tagline, description, and slug.",
	}, apiHandler(d, "search_companies",
		func(ctx context.Context, in SearchInput) (*apiclient.Result, error) {
			return c.Get(ctx, "/companies", map[string]string{"search": in.Query, "limit": limitParam(in.Limit)})
		},
		func(in SearchInput, body []byte) any {
			out := pick(body, map[string]string{"companies": "companies", "total": "total"})
			out["query"] = rawString(in.Query)
			return out
		}))

	// Research

	mcp.AddTool(server, &mcp.Tool{
		Name:        "save_research",
		Description: "Save a research artifact. Can be company profile, market analysis, founder background, etc.",
	}, apiHandler(d, "save_research",
		func(ctx context.Context, in SaveResearchInput) (*apiclient.Result, error) {
			return c.Post(ctx, "/research", in)
		},
		func(_ SaveResearchInput, body []byte) any {
			return pick(body, map[string]string{
				"id":        "research.id",
				"type":      "research.type",
				"title":     "research.title",
				"companyId": "research.companyId",
				"dealId":    "research.dealId",
				"createdAt": "research.createdAt",
			})
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_research",
		Description: "Get a specific research artifact by ID.",
	}, apiHandler(d, "get_research",
		func(ctx context.Context, in GetResearchInput) (*apiclient.Result, error) {
			return c.Get(ctx, "/research", map[string]string{"id": in.ResearchID})
		},
		func(_ GetResearchInput, body []byte) any {
			return raw(body, "research")
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_research",
		Description: "Search research artifacts by topic, type, or associated company/deal.",
	}, apiHandler(d, "query_research",
		func(ctx context.Context, in QueryResearchInput) (*apiclient.Result, error) {
			return c.Get(ctx, "/research", map[string]string{
				"topic":     in.Topic,
				"type":      in.Type,
				"companyId": in.CompanyID,
				"dealId":    in.DealID,
				"limit":     limitParam(in.Limit),
			})
		},
		func(_ QueryResearchInput, body []byte) any {
			return pick(body, map[string]string{"research": "research", "total": "total"})
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "link_research",
		Description: "Associate a research artifact with a company or deal.",
	}, apiHandler(d, "link_research",
		func(ctx context.Context, in LinkResearchInput) (*apiclient.Result, error) {
			return c.Patch(ctx, "/research", in)
		},
		func(_ LinkResearchInput, body []byte) any {
			out := pick(body, map[string]string{
				"success":         "success",
				"researchId":      "researchId",
				"linkedToCompany": "linkedToCompany",
				"linkedToDeal":    "linkedToDeal",
			})
			out["linkedAt"] = rawString(time.Now().UTC().Format(time.RFC3339Nano))
			return out
		}))

	// Enrichments

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_enrichment",
		Description: "Submit an enrichment to an existing company or deal. Creates a GitHub PR for curator review.",
	}, apiHandler(d, "add_enrichment",
		func(ctx context.Context, in AddEnrichmentInput) (*apiclient.Result, error) {
			return c.Post(ctx, "/enrichments", in)
		},
		func(_ AddEnrichmentInput, body []byte) any {
			return pick(body, map[string]string{
				"id":         "enrichment.id",
				"companyId":  "enrichment.companyId",
				"dealId":     "enrichment.dealId",
				"targetType": "enrichment.targetType",
				"status":     "enrichment.status",
				"prNumber":   "enrichment.prNumber",
				"prUrl":      "enrichment.prUrl",
				"createdAt":  "enrichment.createdAt",
				"message":    "message",
			})
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_enrichments",
		Description: "Get enrichment history, optionally filtered by company, deal, or status.",
	}, apiHandler(d, "get_enrichments",
		func(ctx context.Context, in GetEnrichmentsInput) (*apiclient.Result, error) {
			return c.Get(ctx, "/enrichments", map[string]string{
				"companyId": in.CompanyID,
				"dealId":    in.DealID,
				"status":    in.Status,
				"limit":     limitParam(in.Limit),
			})
		},
		func(_ GetEnrichmentsInput, body []byte) any {
			return pick(body, map[string]string{"enrichments": "enrichments", "total": "total"})
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_enrichment",
		Description: "Cancel a pending enrichment request.",
	}, apiHandler(d, "cancel_enrichment",
		func(ctx context.Context, in CancelEnrichmentInput) (*apiclient.Result, error) {
			return c.Delete(ctx, "/enrichments", map[string]string{"id": in.EnrichmentID})
		},
		func(_ CancelEnrichmentInput, body []byte) any {
			return pick(body, map[string]string{"success": "success", "cancelled": "cancelled"})
		}))

	// Utility

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_current_user",
		Description: "Get information about the currently authenticated user and their stats.",
	}, apiHandler(d, "get_current_user",
		func(ctx context.Context, _ EmptyInput) (*apiclient.Result, error) {
			return c.CurrentUser(ctx)
		},
		func(_ EmptyInput, body []byte) any {
			return pick(body, map[string]string{
				"id":        "user.id",
				"name":      "user.name",
				"email":     "user.email",
				"role":      "user.role",
				"createdAt": "user.createdAt",
				"stats":     "stats",
			})
		}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Check API connection status.",
	}, syncStatusHandler(d))
}

// --- Input types ---

// CreateDealInput holds parameters for create_deal. It is also the
// request body.
type CreateDealInput struct {
	Name         string   `json:"name" jsonschema:"company name"`
	Website      string   `json:"website,omitempty" jsonschema:"company website URL"`
	Summary      string   `json:"summary" jsonschema:"brief description of the company and opportunity"`
	Stage        string   `json:"stage,omitempty" jsonschema:"funding stage (pre-seed, seed, series-a, etc.)"`
	Sector       string   `json:"sector,omitempty" jsonschema:"industry sector"`
	Valuation    *float64 `json:"valuation,omitempty" jsonschema:"valuation in USD"`
	CuratorBlurb string   `json:"curatorBlurb,omitempty" jsonschema:"curator's take on the deal"`
}

// UpdateDealInput holds parameters for update_deal.
type UpdateDealInput struct {
	DealID string         `json:"dealId" jsonschema:"deal ID"`
	Fields map[string]any `json:"fields" jsonschema:"fields to update (e.g. summary, curatorBlurb, valuation, memoUrl, deckUrl, dataRoomUrl)"`
}

// GetDealInput holds parameters for get_deal.
type GetDealInput struct {
	DealID string `json:"dealId,omitempty" jsonschema:"deal ID"`
	Slug   string `json:"slug,omitempty" jsonschema:"deal slug"`
}

// ListDealsInput holds parameters for list_deals.
type ListDealsInput struct {
	Stage  string `json:"stage,omitempty" jsonschema:"filter by funding stage"`
	Sector string `json:"sector,omitempty" jsonschema:"filter by sector"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// SearchInput holds parameters for search_deals and search_companies.
type SearchInput struct {
	Query string `json:"query" jsonschema:"search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// Founder is one entry of a company's founder list.
type Founder struct {
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
	Bio      string `json:"bio,omitempty"`
	LinkedIn string `json:"linkedIn,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
}

// FundingRound is one historical funding round.
type FundingRound struct {
	Round     string   `json:"round"`
	Amount    *float64 `json:"amount,omitempty"`
	Date      string   `json:"date,omitempty"`
	Investors []string `json:"investors,omitempty"`
}

// CreateCompanyInput holds parameters for create_company. It is also the
// request body.
type CreateCompanyInput struct {
	Name           string         `json:"name" jsonschema:"company name"`
	Tagline        string         `json:"tagline,omitempty" jsonschema:"one-line description"`
	Description    string         `json:"description,omitempty" jsonschema:"longer description of the company"`
	Website        string         `json:"website,omitempty" jsonschema:"company website URL"`
	LogoURL        string         `json:"logoUrl,omitempty" jsonschema:"logo image URL"`
	Industries     []string       `json:"industries,omitempty" jsonschema:"industry tags"`
	Stage          string         `json:"stage,omitempty" jsonschema:"funding stage"`
	FoundedYear    *int           `json:"foundedYear,omitempty" jsonschema:"year founded"`
	TeamSize       *int           `json:"teamSize,omitempty" jsonschema:"number of employees"`
	Founders       []Founder      `json:"founders,omitempty" jsonschema:"founder information"`
	Location       string         `json:"location,omitempty" jsonschema:"headquarters location"`
	FundingHistory []FundingRound `json:"fundingHistory,omitempty" jsonschema:"historical funding rounds"`
	TotalRaised    *float64       `json:"totalRaised,omitempty" jsonschema:"total amount raised in USD"`
	LinkedInURL    string         `json:"linkedinUrl,omitempty" jsonschema:"LinkedIn company page"`
	TwitterURL     string         `json:"twitterUrl,omitempty" jsonschema:"Twitter/X profile"`
	CrunchbaseURL  string         `json:"crunchbaseUrl,omitempty" jsonschema:"Crunchbase profile"`
}

// UpdateCompanyInput holds parameters for update_company.
type UpdateCompanyInput struct {
	CompanyID string         `json:"companyId" jsonschema:"company ID"`
	Fields    map[string]any `json:"fields" jsonschema:"fields to update (tagline, description, website, industries, stage, founders, fundingHistory, etc.)"`
}

// GetCompanyInput holds parameters for get_company.
type GetCompanyInput struct {
	CompanyID string `json:"companyId,omitempty" jsonschema:"company ID"`
	Slug      string `json:"slug,omitempty" jsonschema:"company slug"`
}

// ListCompaniesInput holds parameters for list_companies.
type ListCompaniesInput struct {
	Stage    string `json:"stage,omitempty" jsonschema:"filter by funding stage"`
	Industry string `json:"industry,omitempty" jsonschema:"filter by industry"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// SaveResearchInput holds parameters for save_research.
type SaveResearchInput struct {
	Type       string         `json:"type" jsonschema:"research type (company_profile, market_analysis, founder_background, competitive_analysis)"`
	Title      string         `json:"title" jsonschema:"research title"`
	Content    map[string]any `json:"content" jsonschema:"research content as structured JSON"`
	SourceURLs []string       `json:"sourceUrls,omitempty" jsonschema:"source URLs for provenance"`
	CompanyID  string         `json:"companyId,omitempty" jsonschema:"associated company ID"`
	DealID     string         `json:"dealId,omitempty" jsonschema:"associated deal ID"`
}

// GetResearchInput holds parameters for get_research.
type GetResearchInput struct {
	ResearchID string `json:"researchId" jsonschema:"research ID"`
}

// QueryResearchInput holds parameters for query_research.
type QueryResearchInput struct {
	Topic     string `json:"topic,omitempty" jsonschema:"search topic"`
	Type      string `json:"type,omitempty" jsonschema:"filter by research type"`
	CompanyID string `json:"companyId,omitempty" jsonschema:"filter by company ID"`
	DealID    string `json:"dealId,omitempty" jsonschema:"filter by deal ID"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// LinkResearchInput holds parameters for link_research.
type LinkResearchInput struct {
	ResearchID string `json:"researchId" jsonschema:"research ID"`
	CompanyID  string `json:"companyId,omitempty" jsonschema:"company ID to link"`
	DealID     string `json:"dealId,omitempty" jsonschema:"deal ID to link"`
}

// EnrichmentField is one proposed field change.
type EnrichmentField struct {
	FieldName  string `json:"fieldName"`
	NewValue   string `json:"newValue"`
	Confidence string `json:"confidence,omitempty"`
	Source     string `json:"source,omitempty"`
}

// SupportingResearch backs an enrichment with sources.
type SupportingResearch struct {
	SourceURLs []string `json:"sourceUrls,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

// AddEnrichmentInput holds parameters for add_enrichment.
type AddEnrichmentInput struct {
	CompanyID          string              `json:"companyId,omitempty" jsonschema:"company ID to enrich"`
	DealID             string              `json:"dealId,omitempty" jsonschema:"deal ID to enrich"`
	Fields             []EnrichmentField   `json:"fields" jsonschema:"fields to update"`
	SupportingResearch *SupportingResearch `json:"supportingResearch,omitempty" jsonschema:"supporting research and sources"`
}

// GetEnrichmentsInput holds parameters for get_enrichments.
type GetEnrichmentsInput struct {
	CompanyID string `json:"companyId,omitempty" jsonschema:"filter by company ID"`
	DealID    string `json:"dealId,omitempty" jsonschema:"filter by deal ID"`
	Status    string `json:"status,omitempty" jsonschema:"filter by status (pending, approved, rejected, cancelled)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

// CancelEnrichmentInput holds parameters for cancel_enrichment.
type CancelEnrichmentInput struct {
	EnrichmentID string `json:"enrichmentId" jsonschema:"enrichment ID to cancel"`
}

// --- Handlers ---

// apiHandler adapts one executor call to a tool handler. render shapes
// the decoded body into the tool's output.
func apiHandler[In any](d *Deps, tool string, call func(context.Context, In) (*apiclient.Result, error), render func(In, []byte) any) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input In) (*mcp.CallToolResult, any, error) {
		res, err := call(ctx, input)
		if err != nil {
			return errorResult(d, tool, err), nil, nil
		}
		if res.Pending() {
			return authRequiredResult(res.Authorization), nil, nil
		}

		return textResult(render(input, res.Body)), nil, nil
	}
}

type syncStatusOutput struct {
	Status        string `json:"status"`
	LastCheckedAt string `json:"lastCheckedAt"`
	API           string `json:"api"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
}

func syncStatusHandler(d *Deps) mcp.ToolHandlerFor[EmptyInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
		out := syncStatusOutput{LastCheckedAt: time.Now().UTC().Format(time.RFC3339Nano)}

		res, err := d.Client.CurrentUser(ctx)

		var apiErr *apiclient.APIError
		switch {
		case err == nil && res.Pending():
			return authRequiredResult(res.Authorization), nil, nil
		case err == nil:
			out.Status, out.API = "connected", "connected"
			out.Message = "Successfully connected to Seed Network API"
		case errors.As(err, &apiErr):
			out.Status, out.API = "disconnected", "disconnected"
			out.Error = apiErr.Message
		default:
			out.Status, out.API = "error", "error"
			out.Error = err.Error()
		}

		return textResult(out), nil, nil
	}
}

// --- Shaping ---

// pick copies the values at the given gjson paths into a new object.
// Missing paths are left out.
func pick(body []byte, paths map[string]string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(paths))
	for key, path := range paths {
		if r := gjson.GetBytes(body, path); r.Exists() {
			out[key] = json.RawMessage(r.Raw)
		}
	}
	return out
}

// raw returns the value at path, or null.
func raw(body []byte, path string) json.RawMessage {
	if r := gjson.GetBytes(body, path); r.Exists() {
		return json.RawMessage(r.Raw)
	}
	return json.RawMessage("null")
}

// listOrEmpty returns the array at path, or an empty array.
func listOrEmpty(body []byte, path string) json.RawMessage {
	if r := gjson.GetBytes(body, path); r.IsArray() {
		return json.RawMessage(r.Raw)
	}
	return json.RawMessage("[]")
}

func rawString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

func limitParam(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
