package e2e_test

import (
	"crypto/rand"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	resty "github.com/go-resty/resty/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive //we want to use it for ginkgo
	. "github.com/onsi/gomega"    //nolint:revive //we want to use it for gomega

	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/gogatekeeper/identity-relay/pkg/server"
	"github.com/gogatekeeper/identity-relay/pkg/testsuite"
)

const (
	timeout       = time.Second * 30
	pollInterval  = time.Millisecond * 100
	localAddress  = "127.0.0.1:"
	localURI      = "http://" + localAddress
	testProjectID = "e2e-project"
	testAPIKey    = "e2e-api-key"
	testOrigin    = "https://console.example.com"
)

type relayResponse struct {
	Success     bool                   `json:"success"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data"`
	AWSResponse struct {
		Status              int    `json:"status"`
		Endpoint            string `json:"endpoint"`
		RetriedWithNewToken bool   `json:"retriedWithNewToken"`
	} `json:"awsResponse"`
	Error        interface{}            `json:"error"`
	CognitoError map[string]interface{} `json:"cognitoError"`
}

func generateRandomPort() (string, error) {
	var minPort int64 = 1024
	var maxPort int64 = 65000
	maxRand := big.NewInt(maxPort - minPort + 1)
	randPort, err := rand.Int(rand.Reader, maxRand)
	if err != nil {
		return "", err
	}
	randP := int(randPort.Int64() + minPort)
	return strconv.Itoa(randP), nil
}

func startAndWait(portNum string, osArgs []string) {
	go func() {
		defer GinkgoRecover()

		app := server.NewRelayApp()
		Expect(app.Run(osArgs)).To(Succeed())
	}()

	Eventually(func(_ Gomega) error {
		conn, err := net.Dial("tcp", localAddress+portNum)
		if err != nil {
			return err
		}
		conn.Close()
		return nil
	}, timeout, pollInterval).Should(Succeed())
}

func relayArgs(portNum string, auth *testsuite.FakeAuthServer, target *testsuite.FakeTarget) []string {
	return []string{
		constant.Prog,
		"serve",
		"--listen=" + localAddress + portNum,
		"--discovery-url=" + auth.URL(),
		"--client-id=" + testsuite.FakeClientID,
		"--client-secret=" + testsuite.FakeClientSecret,
		"--scope=" + testsuite.FakeScope,
		"--endpoint-url=" + target.URL(),
		"--api-key=" + testAPIKey,
		"--project-id=" + testProjectID,
		"--metadata-timeout=100ms",
		"--cors-origins=" + testOrigin,
		"--enable-metrics",
		"--disable-all-logging",
	}
}

func invoke(portNum string) (*resty.Response, *relayResponse) {
	body := &relayResponse{}
	resp, err := resty.New().R().
		SetHeader(constant.ContentTypeHeader, constant.ContentTypeJSON).
		SetHeader(constant.HeaderCloudEventType, "google.cloud.pubsub.topic.v1.messagePublished").
		SetBody(map[string]string{"trigger": "e2e"}).
		SetResult(body).
		SetError(body).
		Post(localURI + portNum + constant.RelayURL)
	Expect(err).NotTo(HaveOccurred())
	return resp, body
}

var _ = Describe("Relay delivery", func() {
	var portNum string
	var auth *testsuite.FakeAuthServer
	var target *testsuite.FakeTarget

	BeforeEach(func() {
		var err error
		portNum, err = generateRandomPort()
		Expect(err).NotTo(HaveOccurred())
		auth = testsuite.NewFakeAuthServer()
		target = testsuite.NewFakeTarget(nil, constant.DefaultEndpointPath)
		startAndWait(portNum, relayArgs(portNum, auth, target))
	})

	AfterEach(func() {
		auth.Close()
		target.Close()
	})

	When("Invoking the relay", func() {
		It("should deliver the identity payload", func(_ SpecContext) {
			resp, body := invoke(portNum)
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(body.Success).To(BeTrue())
			Expect(body.Data).To(HaveKeyWithValue("projectId", testProjectID))
			Expect(body.Data).To(HaveKeyWithValue("eventType", "google.cloud.pubsub.topic.v1.messagePublished"))
			Expect(body.AWSResponse.Status).To(Equal(http.StatusOK))
			Expect(body.AWSResponse.RetriedWithNewToken).To(BeFalse())
			Expect(resp.Header().Get(constant.RequestIDHeader)).NotTo(BeEmpty())

			deliveries := target.Deliveries()
			Expect(deliveries).To(HaveLen(1))
			Expect(deliveries[0].AuthToken).To(Equal(auth.LastToken()))
			Expect(deliveries[0].APIKey).To(Equal(testAPIKey))
			Expect(deliveries[0].Body).To(HaveKeyWithValue("request", map[string]interface{}{"trigger": "e2e"}))
		})

		It("should exchange a new token per invocation", func(_ SpecContext) {
			invoke(portNum)
			invoke(portNum)
			Expect(auth.Issued()).To(Equal(2))
		})

		It("should answer preflight requests", func(_ SpecContext) {
			resp, err := resty.New().R().
				SetHeader("Origin", testOrigin).
				SetHeader("Access-Control-Request-Method", http.MethodPost).
				Options(localURI + portNum + constant.RelayURL)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusNoContent))
			Expect(resp.Header().Get("Access-Control-Allow-Origin")).To(Equal(testOrigin))
			Expect(target.Deliveries()).To(BeEmpty())
		})

		It("should expose health and metrics", func(_ SpecContext) {
			resp, err := resty.New().R().Get(localURI + portNum + constant.HealthURL)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))

			invoke(portNum)
			resp, err = resty.New().R().Get(localURI + portNum + constant.MetricsURL)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(resp.String()).To(ContainSubstring("relay_oauth_tokens_total"))
		})
	})
})

var _ = Describe("Relay recovery", func() {
	var portNum string
	var auth *testsuite.FakeAuthServer

	BeforeEach(func() {
		var err error
		portNum, err = generateRandomPort()
		Expect(err).NotTo(HaveOccurred())
		auth = testsuite.NewFakeAuthServer()
	})

	AfterEach(func() {
		auth.Close()
	})

	When("The target rejects the first token", func() {
		It("should retry once with a refreshed token", func(_ SpecContext) {
			var rejected atomic.Bool
			target := testsuite.NewFakeTarget(func(token string) bool {
				if rejected.CompareAndSwap(false, true) {
					return false
				}
				return token == auth.LastToken()
			}, constant.DefaultEndpointPath)
			defer target.Close()
			startAndWait(portNum, relayArgs(portNum, auth, target))

			resp, body := invoke(portNum)
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(body.Success).To(BeTrue())
			Expect(body.AWSResponse.RetriedWithNewToken).To(BeTrue())
			Expect(auth.Issued()).To(Equal(2))
			Expect(target.Deliveries()).To(HaveLen(2))
		})
	})

	When("The default path does not exist", func() {
		It("should fall back to the alternate paths", func(_ SpecContext) {
			target := testsuite.NewFakeTarget(nil, "/webhook")
			defer target.Close()
			startAndWait(portNum, relayArgs(portNum, auth, target))

			resp, body := invoke(portNum)
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(body.Success).To(BeTrue())
			Expect(body.AWSResponse.Endpoint).To(Equal(target.URL() + "/webhook"))

			paths := []string{}
			for _, received := range target.Deliveries() {
				paths = append(paths, received.Path)
			}
			Expect(paths).To(Equal([]string{constant.DefaultEndpointPath, "/api", "/data", "/webhook"}))
		})
	})

	When("The client credentials are rejected", func() {
		It("should report the token failure without delivering", func(_ SpecContext) {
			target := testsuite.NewFakeTarget(nil, constant.DefaultEndpointPath)
			defer target.Close()
			args := append(relayArgs(portNum, auth, target), "--client-secret=wrong-secret")
			startAndWait(portNum, args)

			resp, body := invoke(portNum)
			Expect(resp.StatusCode()).To(Equal(http.StatusInternalServerError))
			Expect(body.Success).To(BeFalse())
			Expect(body.Error).To(Equal("Failed to obtain access token"))
			Expect(body.CognitoError).To(HaveKeyWithValue("errorCode", "invalid_client"))
			Expect(target.Deliveries()).To(BeEmpty())
		})
	})
})
