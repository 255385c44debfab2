package client

import (
	"net/http"
	"net/url"
	"time"

	"github.com/Laisky/zap"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/logger"
)

// HTTPClient is the shared client for upstream provider calls that manage
// their own deadlines via context.
var HTTPClient *http.Client

// ImpatientHTTPClient is for short health checks and status probes.
var ImpatientHTTPClient *http.Client

// UserContentRequestHTTPClient fetches user supplied URLs (images, web pages)
// and honours USER_CONTENT_REQUEST_PROXY.
var UserContentRequestHTTPClient *http.Client

func Init() {
	if config.UserContentRequestProxy != "" {
		logger.Logger.Info("using proxy to fetch user content",
			zap.String("proxy", config.UserContentRequestProxy))
		proxyURL, err := url.Parse(config.UserContentRequestProxy)
		if err != nil {
			logger.Logger.Fatal("USER_CONTENT_REQUEST_PROXY set but invalid",
				zap.String("proxy", config.UserContentRequestProxy), zap.Error(err))
		}
		transport := &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		}
		UserContentRequestHTTPClient = &http.Client{
			Transport: transport,
			Timeout:   time.Second * time.Duration(config.UserContentRequestTimeout),
		}
	} else {
		UserContentRequestHTTPClient = &http.Client{
			Timeout: time.Second * time.Duration(config.UserContentRequestTimeout),
		}
	}

	if config.ProviderTimeout == 0 {
		HTTPClient = &http.Client{}
	} else {
		HTTPClient = &http.Client{
			Timeout: time.Duration(config.ProviderTimeout) * time.Second,
		}
	}

	ImpatientHTTPClient = &http.Client{
		Timeout: 5 * time.Second,
	}
}

func init() {
	Init()
}
