package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type settingsReq struct {
	WidgetAccent         *string `json:"widget_accent"`
	WidgetWelcomeMessage *string `json:"widget_welcome_message"`
	WidgetPrimaryColor   *string `json:"widget_primary_color"`
}

type domainReq struct {
	Domain    string `json:"domain"`
	IsPrimary bool   `json:"is_primary"`
}

// ownedTenant runs fn with the caller's tenant under the lock, or answers 404.
func (h *Handler) ownedTenant(c *gin.Context, fn func(t *Tenant)) {
	uid, ok := userIDFromContext(c)
	if !ok {
		detail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tenants[uid]
	if !ok {
		detail(c, http.StatusNotFound, "Tenant not found")
		return
	}
	fn(t)
}

func (h *Handler) CurrentTenant(c *gin.Context) {
	h.ownedTenant(c, func(t *Tenant) {
		c.JSON(http.StatusOK, gin.H{
			"id":                     t.ID,
			"name":                   t.Name,
			"schema_name":            t.SchemaName,
			"industry":               t.Industry,
			"widget_accent":          t.WidgetAccent,
			"widget_welcome_message": t.WidgetWelcomeMessage,
			"widget_primary_color":   t.WidgetPrimaryColor,
			"paid_until":             nil,
			"on_trial":               t.OnTrial,
			"plan":                   gin.H{"name": "Starter", "slug": "starter", "message_quota": 1000, "monthly_price": "0.00"},
			"domains":                append([]Domain{}, t.Domains...),
		})
	})
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var req settingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "invalid json")
		return
	}
	h.ownedTenant(c, func(t *Tenant) {
		if req.WidgetAccent != nil {
			t.WidgetAccent = *req.WidgetAccent
		}
		if req.WidgetWelcomeMessage != nil {
			t.WidgetWelcomeMessage = *req.WidgetWelcomeMessage
		}
		if req.WidgetPrimaryColor != nil {
			t.WidgetPrimaryColor = *req.WidgetPrimaryColor
		}
		c.JSON(http.StatusOK, gin.H{
			"widget_accent":          t.WidgetAccent,
			"widget_welcome_message": t.WidgetWelcomeMessage,
			"widget_primary_color":   t.WidgetPrimaryColor,
		})
	})
}

// AddDomain upserts a domain. A new primary demotes the others.
func (h *Handler) AddDomain(c *gin.Context) {
	var req domainReq
	if err := c.ShouldBindJSON(&req); err != nil || normalizeDomain(req.Domain) == "" {
		detail(c, http.StatusBadRequest, "domain is required")
		return
	}
	name := normalizeDomain(req.Domain)
	h.ownedTenant(c, func(t *Tenant) {
		found := false
		for i := range t.Domains {
			if t.Domains[i].Domain == name {
				t.Domains[i].IsPrimary = req.IsPrimary
				found = true
			}
		}
		if !found {
			t.Domains = append(t.Domains, Domain{Domain: name, IsPrimary: req.IsPrimary})
		}
		if req.IsPrimary {
			for i := range t.Domains {
				if t.Domains[i].Domain != name {
					t.Domains[i].IsPrimary = false
				}
			}
		}
		c.JSON(http.StatusOK, Domain{Domain: name, IsPrimary: req.IsPrimary})
	})
}

func (h *Handler) EmbedCode(c *gin.Context) {
	h.ownedTenant(c, func(t *Tenant) {
		script := "<script src=\"https://app.shoshchat.ai/widget-loader.js\" async></script>\n" +
			"<script>\n" +
			"  window.ShoshChatWidget = window.ShoshChatWidget || {};\n" +
			"  window.ShoshChatWidget.init({\n" +
			fmt.Sprintf("    tenantId: '%s',\n", t.SchemaName) +
			fmt.Sprintf("    accent: '%s'\n", t.WidgetAccent) +
			"  });\n" +
			"</script>"
		c.JSON(http.StatusOK, gin.H{"embed_code": script})
	})
}
