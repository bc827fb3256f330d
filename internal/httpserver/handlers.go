package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"cntrlx-store/internal/domain"
	"cntrlx-store/internal/service/checkout"
	"cntrlx-store/internal/service/download"
	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

func (a *api) configHandler(c *gin.Context) {
	if a.public.IdentityURL == "" || a.public.IdentityAnonKey == "" {
		abortWithError(c, a.logger, domain.Configuration("Identity provider not configured"))
		return
	}
	c.JSON(http.StatusOK, configResponse{
		IdentityURL:     a.public.IdentityURL,
		IdentityAnonKey: a.public.IdentityAnonKey,
		SiteURL:         a.public.SiteURL,
	})
}

func (a *api) checkoutHandler(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, a.logger, domain.Validation(domain.ReasonInvalidRequest, "Request body must be a JSON object with a productIds list"))
		return
	}
	res, err := a.checkout.CreateSession(c.Request.Context(), checkout.Request{
		UserID:     userIDFrom(c),
		ProductIDs: req.productIDs(),
		PromoCode:  req.PromoCode,
		Origin:     c.GetHeader("Origin"),
		Referer:    c.GetHeader("Referer"),
	})
	if err != nil {
		abortWithError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, checkoutResponse{RedirectURL: res.RedirectURL, SessionID: res.SessionID})
}

func (a *api) webhookHandler(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		abortWithError(c, a.logger, domain.Validation(domain.ReasonInvalidRequest, "Unreadable request body"))
		return
	}
	res, err := a.purchases.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		abortWithError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, webhookResponse{Received: res.Received})
}

func (a *api) downloadHandler(c *gin.Context) {
	t := c.Query("type")
	if t == "" {
		t = c.Query("t")
	}
	a.serveDownload(c, download.Type(t))
}

// legacyDownloadHandler serves the older per-type download routes.
func (a *api) legacyDownloadHandler(t download.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		a.serveDownload(c, t)
	}
}

func (a *api) serveDownload(c *gin.Context, t download.Type) {
	ctx := c.Request.Context()
	d, err := a.downloads.Prepare(ctx, download.Request{
		UserID:    userIDFrom(c),
		SessionID: c.Query("session_id"),
		Type:      t,
		Script:    c.Query("script"),
	})
	if err != nil {
		abortWithError(c, a.logger, err)
		return
	}

	c.Header("Content-Type", d.ContentType)
	c.Header("Content-Disposition", d.ContentDisposition())
	c.Header("Cache-Control", "no-store")
	if d.Size >= 0 {
		c.Header("Content-Length", strconv.FormatInt(d.Size, 10))
	}
	c.Status(http.StatusOK)
	if err := d.WriteTo(streamContext(ctx), c.Writer); err != nil {
		// Headers are already sent; the client sees a truncated body.
		a.logger.ErrorContext(ctx, "download stream failed",
			"file", d.Filename, "request_id", requestIDFrom(ctx), "err", err)
	}
}

func scriptsForbiddenHandler(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: errorBody{
		Reason:  "forbidden",
		Message: "Scripts are only available through purchase downloads",
	}})
}

func (a *api) purchasesHandler(c *gin.Context) {
	views, err := a.purchases.List(c.Request.Context(), userIDFrom(c))
	if err != nil {
		abortWithError(c, a.logger, err)
		return
	}
	out := make([]gin.H, 0, len(views))
	for _, v := range views {
		out = append(out, purchaseJSON(v))
	}
	c.JSON(http.StatusOK, gin.H{"purchases": out})
}

func (a *api) recoverHandler(c *gin.Context) {
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, a.logger, domain.Validation(domain.ReasonInvalidRequest, "Invalid request body"))
		return
	}
	res, err := a.purchases.Recover(c.Request.Context(), userIDFrom(c), req.SessionID)
	if err != nil {
		abortWithError(c, a.logger, err)
		return
	}
	if !res.Recovered {
		c.JSON(http.StatusOK, recoverResponse{Recovered: false, Reason: res.Reason})
		return
	}
	c.JSON(http.StatusOK, recoverResponse{Recovered: true, ItemCount: &res.ItemCount})
}

func (a *api) verifySessionHandler(c *gin.Context) {
	v, err := a.purchases.VerifySession(c.Request.Context(), userIDFrom(c), c.Query("session_id"))
	if err != nil {
		abortWithError(c, a.logger, err)
		return
	}
	body := gin.H{"paid": v.Paid, "items": itemsOrEmpty(v.Items)}
	for k, flag := range v.Entitlements.Map() {
		body[k] = flag
	}
	c.JSON(http.StatusOK, body)
}

func (a *api) purchaseDebugHandler(c *gin.Context) {
	sessionID := c.Query("session_id")
	d, err := a.purchases.Debug(c.Request.Context(), userIDFrom(c), sessionID)
	if err != nil {
		abortWithError(c, a.logger, err)
		return
	}
	resp := debugResponse{
		UserID:        d.UserID,
		PurchaseCount: d.PurchaseCount,
		Sessions:      d.Sessions,
	}
	if sessionID != "" {
		resp.SessionFound = &d.SessionFound
	}
	c.JSON(http.StatusOK, resp)
}
