// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package facade implements the Request Façade: the XML-RPC surface
// (AssertProfile, DeclareVersion, GetProbes, RecvProbeData, GetConfig,
// GetDecisionList, RecvStats) and the per-client session state machine
// that enforces the ordering contract between them.
package facade

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/openconf/confd/internal/logging"
	"github.com/openconf/confd/internal/metadata"
	"github.com/openconf/confd/internal/observability"
	"github.com/openconf/confd/internal/xmlutil"
)

const sessionCookie = "confd_session"

// Server is the gin-based transport for the Request Façade.
type Server struct {
	engine *gin.Engine
	ops    *Ops
	logger *logging.Logger
}

// NewServer constructs a Server wired over ops. serviceName identifies
// this process to the otelgin tracing middleware.
func NewServer(ops *Ops, logger *logging.Logger, serviceName string) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), otelgin.Middleware(serviceName))

	s := &Server{engine: engine, ops: ops, logger: logger}
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.POST("/RPC2", s.handleRPC)
	return s
}

// Handler returns the http.Handler backing this Server, for use with
// http.Server or net/http/httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// handleRPC is the single entry point every XML-RPC method call goes
// through: extract credentials and session, decode the method call,
// dispatch to Ops, and encode the result or fault.
func (s *Server) handleRPC(c *gin.Context) {
	start := time.Now()
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Data(http.StatusBadRequest, "text/xml", encodeFault(3, "unreadable request body"))
		return
	}

	call, err := parseMethodCall(body)
	if err != nil {
		c.Data(http.StatusBadRequest, "text/xml", encodeFault(3, err.Error()))
		return
	}

	sess := s.session(c)
	creds := s.credentials(c, sess)

	result, err := s.dispatch(c, call, sess, creds)
	outcome := "ok"
	if err != nil {
		outcome = recordFault(c, call.Name, err)
	} else {
		c.Data(http.StatusOK, "text/xml", result)
	}

	observability.RPCTotal.WithLabelValues(call.Name, outcome).Inc()
	observability.RPCDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
}

// dispatch authenticates the caller where the method requires it,
// advances the session state machine, and returns the already-encoded
// XML-RPC response body.
func (s *Server) dispatch(c *gin.Context, call *methodCall, sess *Session, creds Credentials) ([]byte, error) {
	ctx := c.Request.Context()

	if sess.snapshot() == StateNew {
		meta, err := s.ops.Authenticate(ctx, creds)
		if err != nil {
			return nil, err
		}
		sess.adoptName(meta.Hostname)
		sess.advance(StateAuthenticated)
		sess.SetProfile(meta.Profile)
	}

	switch call.Name {
	case "AssertProfile":
		ok, err := s.ops.AssertProfile(sess, call.Param)
		return encodeOrNil(encodeBoolResponse(ok), err)

	case "DeclareVersion":
		ok, err := s.ops.DeclareVersion(sess, call.Param)
		return encodeOrNil(encodeBoolResponse(ok), err)

	case "GetProbes":
		meta, err := s.ops.d.Resolver.Resolve(ctx, metadata.Identity{ClaimedName: sess.ClientName})
		if err != nil {
			return nil, err
		}
		body, err := s.ops.GetProbes(ctx, sess, meta)
		if err != nil {
			return nil, err
		}
		return encodeStringResponse(string(body)), nil

	case "RecvProbeData":
		ok, err := s.ops.RecvProbeData(ctx, sess, []byte(call.Param))
		return encodeOrNil(encodeBoolResponse(ok), err)

	case "GetConfig":
		body, err := s.ops.GetConfig(ctx, sess)
		if err != nil {
			return nil, err
		}
		return encodeStringResponse(string(body)), nil

	case "GetDecisionList":
		entries, err := s.ops.GetDecisionList(call.Param)
		if err != nil {
			return nil, err
		}
		return encodeDecisionListResponse(entries), nil

	case "RecvStats":
		ok, err := s.ops.RecvStats(ctx, sess, []byte(call.Param))
		return encodeOrNil(encodeBoolResponse(ok), err)

	default:
		return nil, &xmlutil.PipelineError{Kind: xmlutil.KindUnknownMethod, Message: "unknown method " + call.Name}
	}
}

func encodeOrNil(body []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return body, nil
}

// session resolves the caller's Session from the session cookie,
// re-starting a stale or missing session transparently (spec.md
// §4.F). A fresh nonce is issued whenever none was presented.
func (s *Server) session(c *gin.Context) *Session {
	clientName := basicAuthUsername(c)
	nonce, err := c.Cookie(sessionCookie)
	if err != nil || nonce == "" {
		nonce = uuid.NewString()
		c.SetCookie(sessionCookie, nonce, int((24 * time.Hour).Seconds()), "/RPC2", "", true, true)
	}
	return s.ops.d.Sessions.Get(clientName, nonce)
}

func (s *Server) credentials(c *gin.Context, sess *Session) Credentials {
	username, password := basicAuthCredentials(c)
	if username == "" {
		username = sess.ClientName
	}
	certCN := ""
	certPresented := false
	if c.Request.TLS != nil && len(c.Request.TLS.PeerCertificates) > 0 {
		certPresented = true
		certCN = c.Request.TLS.PeerCertificates[0].Subject.CommonName
	}
	return Credentials{
		Username:      username,
		Password:      password,
		CertCN:        certCN,
		CertPresented: certPresented,
		PeerAddress:   hostOnly(c.Request.RemoteAddr),
	}
}

func basicAuthUsername(c *gin.Context) string {
	username, _ := basicAuthCredentials(c)
	return username
}

func basicAuthCredentials(c *gin.Context) (string, string) {
	username, password, ok := c.Request.BasicAuth()
	if !ok {
		return "", ""
	}
	return username, password
}

func hostOnly(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx > 0 {
		return addr[:idx]
	}
	return addr
}

// recordFault maps err to an XML-RPC fault response and returns the
// outcome label used for the RPCTotal metric.
func recordFault(c *gin.Context, method string, err error) string {
	kind := "RuntimeError"
	message := err.Error()
	if pe, ok := err.(*xmlutil.PipelineError); ok {
		kind = pe.Kind
	}
	code := xmlutil.FaultCode(kind)
	c.Data(http.StatusOK, "text/xml", encodeFault(code, message))
	return kind
}
