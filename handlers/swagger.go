package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the API server.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>fairground Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "fairground-api", "version": "v0.2.0", "description": "All /api routes need a bearer token. /api/collections and /api/admin need the admin role." },
  "components": { "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } } },
  "security": [ { "bearer": [] } ],
  "paths": {
    "/api/collections/{name}": {
      "get": { "summary": "List documents, optionally filtered by ?filter=<json>", "responses": { "200": { "description": "documents" }, "400": { "description": "malformed filter" } } },
      "post": { "summary": "Create a document", "responses": { "201": { "description": "stored document" }, "503": { "description": "storage unavailable" } } }
    },
    "/api/collections/{name}/{id}": {
      "get": { "summary": "Fetch by id", "responses": { "200": { "description": "document" }, "404": { "description": "not found" } } },
      "patch": { "summary": "Shallow-merge a patch", "responses": { "200": { "description": "updated document" }, "404": { "description": "not found" } } },
      "delete": { "summary": "Delete by id", "responses": { "204": { "description": "deleted" }, "404": { "description": "not found" } } }
    },
    "/api/collections/{name}/delete": {
      "post": { "summary": "Delete every document matching the body filter", "responses": { "200": { "description": "{deleted:n}" }, "403": { "description": "empty filter without the admin role" } } }
    },
    "/api/collections/{name}/aggregate": {
      "post": { "summary": "Run a match/group/sort/limit pipeline", "responses": { "200": { "description": "result documents" } } }
    },
    "/api/families": { "post": { "summary": "Create a family", "responses": { "201": { "description": "family" } } } },
    "/api/families/{id}": { "delete": { "summary": "Delete a family and its members", "responses": { "200": { "description": "{membersRemoved:n}" } } } },
    "/api/families/{id}/members": {
      "get": { "summary": "List members", "responses": { "200": { "description": "members" } } },
      "post": { "summary": "Add a member", "responses": { "201": { "description": "member" } } }
    },
    "/api/ledger/entries": { "post": { "summary": "Record a token movement", "responses": { "201": { "description": "entry" } } } },
    "/api/ledger/users/{id}/balance": { "get": { "summary": "Token balance", "responses": { "200": { "description": "balance" } } } },
    "/api/ledger/leaderboard": { "get": { "summary": "Top balances", "responses": { "200": { "description": "standings" } } } },
    "/api/admin/clear/challenge": { "post": { "summary": "Issue a one-time clear confirmation (admin)", "responses": { "201": { "description": "challenge" }, "403": { "description": "clear disabled" } } } },
    "/api/admin/clear": { "post": { "summary": "Wipe all collections with a confirmation token (admin)", "responses": { "204": { "description": "cleared" }, "409": { "description": "invalid confirmation" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
