package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-pos-ledger/internal/inventory"
	"go-pos-ledger/internal/middleware"

	"github.com/gin-gonic/gin"
)

// --- GET: /api/products ---
func (h *Handler) GetProducts(c *gin.Context) {
	products, err := h.inventory.ListProducts(c.Request.Context(), inventory.ListFilter{
		IncludeDeleted: c.Query("include_deleted") == "true",
		Category:       c.Query("category"),
		Search:         c.Query("q"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// --- GET: /api/products/:id ---
func (h *Handler) GetProduct(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	product, err := h.inventory.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// --- GET: /api/products/low-stock ---
func (h *Handler) GetLowStock(c *gin.Context) {
	products, err := h.inventory.LowStock(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// --- POST: /api/products ---
func (h *Handler) AddProduct(c *gin.Context) {
	var in inventory.ProductInput
	if !bindJSON(c, &in) {
		return
	}
	product, err := h.inventory.CreateProduct(c.Request.Context(), in, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// --- PUT: /api/products/:id ---
// Partial update; stock only moves through sales and stock entries.
func (h *Handler) UpdateProduct(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in inventory.ProductUpdate
	if !bindJSON(c, &in) {
		return
	}
	product, err := h.inventory.UpdateProduct(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product updated successfully", "product": product})
}

// --- DELETE: /api/products/:id ---
// Products are soft deleted so past sales keep their references.
func (h *Handler) DeleteProduct(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.inventory.DeleteProduct(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}

// --- POST: /api/stock-entries ---
func (h *Handler) ReceiveStock(c *gin.Context) {
	var in inventory.StockEntryInput
	if !bindJSON(c, &in) {
		return
	}
	entry, err := h.inventory.ReceiveStock(c.Request.Context(), in, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// --- POST: /api/upload ---
func (h *Handler) UploadImage(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	name := filepath.Base(file.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !imageExtensions[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only image files are allowed"})
		return
	}

	// e.g. "167890123_burger.jpg"
	filename := fmt.Sprintf("%d_%s", time.Now().Unix(), name)
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		respondError(c, err)
		return
	}
	if err := c.SaveUploadedFile(file, filepath.Join(h.uploadDir, filename)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}

	baseURL := h.baseURL
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "File uploaded successfully",
		"url":     strings.TrimRight(baseURL, "/") + "/uploads/" + filename,
	})
}
