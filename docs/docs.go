// Package docs holds the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/auth/register": {
            "post": {
                "consumes": ["application/json", "multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Register a local account",
                "parameters": [
                    {"description": "register", "name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/auth.RegisterInput"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/http.messageResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.messageResp"}}
                }
            }
        },
        "/api/auth/verify/{token}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Confirm an email address",
                "parameters": [
                    {"type": "string", "description": "verification token", "name": "token", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.messageResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.messageResp"}}
                }
            }
        },
        "/api/auth/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Sign in with email and password",
                "parameters": [
                    {"description": "login", "name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/http.loginReq"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.loginResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.messageResp"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/http.messageResp"}}
                }
            }
        },
        "/api/auth/logout": {
            "post": {
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Clear the session cookie",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.messageResp"}}
                }
            }
        },
        "/api/auth/password-reset-request": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Email a password reset link",
                "parameters": [
                    {"description": "email", "name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/http.emailReq"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.messageResp"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.messageResp"}}
                }
            }
        },
        "/api/auth/reset-password/{token}": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Set a new password with a reset token",
                "parameters": [
                    {"type": "string", "description": "reset token", "name": "token", "in": "path", "required": true},
                    {"description": "new password", "name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/http.resetReq"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.messageResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.messageResp"}}
                }
            }
        },
        "/api/auth/resend-verification": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Send a new verification email",
                "parameters": [
                    {"description": "email", "name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/http.emailReq"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.messageResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.messageResp"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.messageResp"}}
                }
            }
        },
        "/api/auth/google": {
            "get": {
                "tags": ["oauth"],
                "summary": "Redirect to Google consent",
                "responses": {"302": {"description": "Found"}}
            }
        },
        "/api/auth/google/callback": {
            "get": {
                "tags": ["oauth"],
                "summary": "Finish Google sign-in",
                "parameters": [
                    {"type": "string", "description": "authorization code", "name": "code", "in": "query", "required": true},
                    {"type": "string", "description": "signed state", "name": "state", "in": "query", "required": true}
                ],
                "responses": {
                    "302": {"description": "Found"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.messageResp"}}
                }
            }
        },
        "/api/auth/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Current account",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Account"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/http.messageResp"}}
                }
            }
        },
        "/api/auth/admin": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Admin-only probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.messageResp"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/http.messageResp"}}
                }
            }
        }
    },
    "definitions": {
        "auth.RegisterInput": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "lastname": {"type": "string"},
                "email": {"type": "string"},
                "password": {"type": "string"},
                "confirmPassword": {"type": "string"}
            }
        },
        "domain.Account": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "email": {"type": "string"},
                "name": {"type": "string"},
                "lastname": {"type": "string"},
                "role": {"type": "string"},
                "is_verified": {"type": "boolean"},
                "is_external_identity": {"type": "boolean"},
                "avatar": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.Summary": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "email": {"type": "string"},
                "role": {"type": "string"},
                "avatar": {"type": "string"}
            }
        },
        "http.emailReq": {
            "type": "object",
            "properties": {"email": {"type": "string"}}
        },
        "http.loginReq": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "http.loginResp": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "user": {"$ref": "#/definitions/domain.Summary"},
                "token": {"type": "string"}
            }
        },
        "http.messageResp": {
            "type": "object",
            "properties": {"message": {"type": "string"}}
        },
        "http.resetReq": {
            "type": "object",
            "properties": {
                "password": {"type": "string"},
                "confirmPassword": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "auth-api",
	Description:      "Registration, email verification, login, password reset and Google sign-in.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
