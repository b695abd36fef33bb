package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/aws/smithy-go"
	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/document-recognizer/internal/models"
)

type fakeOCRClient struct {
	mu        sync.Mutex
	languages []string
	images    int
	text      string
	boxes     []gosseract.BoundingBox
	imageErr  error
	closed    bool
}

func (c *fakeOCRClient) SetLanguage(langs ...string) error {
	c.languages = langs
	return nil
}
func (c *fakeOCRClient) SetPageSegMode(gosseract.PageSegMode) error            { return nil }
func (c *fakeOCRClient) SetVariable(gosseract.SettableVariable, string) error { return nil }
func (c *fakeOCRClient) SetImageFromBytes([]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images++
	return c.imageErr
}
func (c *fakeOCRClient) Text() (string, error) { return c.text, nil }
func (c *fakeOCRClient) GetBoundingBoxesVerbose() ([]gosseract.BoundingBox, error) {
	return c.boxes, nil
}
func (c *fakeOCRClient) Close() error {
	c.closed = true
	return nil
}

var _ = Describe("Tesseract", func() {
	var (
		client  *fakeOCRClient
		backend *Tesseract
	)

	BeforeEach(func() {
		client = &fakeOCRClient{
			text: "ACME\nTOTAL 1 200\n",
			boxes: []gosseract.BoundingBox{
				{Word: "ACME", Confidence: 90},
				{Word: "TOTAL", Confidence: 70},
				{Word: "", Confidence: 10},
				{Word: "block", Confidence: -1},
			},
		}
		backend = NewTesseract(TesseractConfig{
			Languages: []string{"eng", "fra"},
			NewClient: func() OCRClient { return client },
		}, &fakeRasterizer{pages: [][]byte{{1}, {2}, {3}}}, nopLogger())
	})

	It("is a free local backend", func() {
		Expect(backend.Kind()).To(Equal(models.BackendLocal))
		Expect(backend.Available()).To(BeTrue())
		Expect(backend.EstimateCost(nil, &models.DocumentProfile{Pages: 9})).To(BeZero())
	})

	It("averages word confidences and ignores non-words", func() {
		result, err := backend.Recognize(context.Background(), models.NewDocument("r.png", pngBytes(2, 2)))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Confidence).To(BeNumerically("~", 80, 0.001))
		Expect(result.Text).To(Equal("ACME\nTOTAL 1 200"))
		Expect(result.Source).To(Equal(models.SourceTesseract))
		Expect(result.CostUnits).To(BeZero())
		Expect(client.languages).To(Equal([]string{"eng", "fra"}))
		Expect(client.closed).To(BeTrue())
	})

	It("recognizes every rendered pdf page", func() {
		result, err := backend.Recognize(context.Background(), models.NewDocument("s.pdf", []byte("%PDF")))
		Expect(err).NotTo(HaveOccurred())
		Expect(client.images).To(Equal(3))
		Expect(result.Pages).To(Equal(3))
		Expect(strings.Count(result.Text, "ACME")).To(Equal(3))
	})

	It("reports an unreadable image as a decode failure", func() {
		client.imageErr = errors.New("leptonica: cannot read")
		_, err := backend.Recognize(context.Background(), models.NewDocument("r.png", pngBytes(2, 2)))

		var be *models.BackendError
		Expect(errors.As(err, &be)).To(BeTrue())
		Expect(be.Category).To(Equal(models.FailureDecode))
	})
})

type fakeTextract struct {
	calls  int
	output *textract.AnalyzeDocumentOutput
	err    error
}

func (f *fakeTextract) AnalyzeDocument(_ context.Context, _ *textract.AnalyzeDocumentInput, _ ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error) {
	f.calls++
	return f.output, f.err
}

func line(text string, conf float32) types.Block {
	return types.Block{BlockType: types.BlockTypeLine, Text: aws.String(text), Confidence: aws.Float32(conf)}
}

var _ = Describe("Textract", func() {
	var (
		api     *fakeTextract
		backend *Textract
	)

	BeforeEach(func() {
		api = &fakeTextract{output: &textract.AnalyzeDocumentOutput{Blocks: []types.Block{
			line("ACME Supplies", 99),
			{BlockType: types.BlockTypeWord, Text: aws.String("ACME"), Confidence: aws.Float32(10)},
			line("TOTAL 125 000", 95),
			line("smudge", 40),
		}}}
		backend = NewTextractWithClient(api, &TextractConfig{MinConfidence: 50, CostPerPage: 1.5, MaxPages: 4},
			&fakeRasterizer{pages: [][]byte{{1}, {2}}}, nopLogger())
	})

	It("estimates cost per page up to the page limit", func() {
		Expect(backend.EstimateCost(nil, &models.DocumentProfile{Pages: 2})).To(Equal(3.0))
		Expect(backend.EstimateCost(nil, &models.DocumentProfile{Pages: 10})).To(Equal(6.0))
		Expect(backend.EstimateCost(nil, nil)).To(Equal(1.5))
	})

	It("joins confident LINE blocks and averages all line confidences", func() {
		result, err := backend.Recognize(context.Background(), models.NewDocument("r.jpg", []byte{0xff, 0xd8}))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Text).To(Equal("ACME Supplies\nTOTAL 125 000"))
		Expect(result.Confidence).To(BeNumerically("~", 78, 0.001))
		Expect(result.Backend).To(Equal(models.BackendCloud))
		Expect(result.CostUnits).To(Equal(1.5))
	})

	It("analyzes each pdf page separately and charges per page", func() {
		result, err := backend.Recognize(context.Background(), models.NewDocument("s.pdf", []byte("%PDF")))
		Expect(err).NotTo(HaveOccurred())
		Expect(api.calls).To(Equal(2))
		Expect(result.CostUnits).To(Equal(3.0))
	})

	It("classifies throttling", func() {
		api.err = &smithy.GenericAPIError{Code: "ThrottlingException"}
		_, err := backend.Recognize(context.Background(), models.NewDocument("r.jpg", []byte{0xff, 0xd8}))

		var be *models.BackendError
		Expect(errors.As(err, &be)).To(BeTrue())
		Expect(be.Category).To(Equal(models.FailureRateLimit))
		Expect(be.Source).To(Equal(models.SourceTextract))
	})
})

var _ = Describe("OpenAI", func() {
	var (
		server  *httptest.Server
		reply   string
		status  int
		request map[string]any
	)

	BeforeEach(func() {
		reply = `{"text": "ACME\nTOTAL 900", "confidence": 93}`
		status = http.StatusOK
		request = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&request)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if status != http.StatusOK {
				_, _ = w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`))
				return
			}
			body, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": reply}}},
			})
			_, _ = w.Write(body)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	newBackend := func(key string) *OpenAI {
		return NewOpenAI(&OpenAIConfig{APIKey: key, BaseURL: server.URL + "/v1", CostPerPage: 4}, nil, nopLogger())
	}

	It("is unavailable without a key", func() {
		Expect(newBackend("").Available()).To(BeFalse())
	})

	It("sends the page as a data url and reads the json reply", func() {
		result, err := newBackend("sk-test").Recognize(context.Background(), models.NewDocument("r.png", pngBytes(2, 2)))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Text).To(Equal("ACME\nTOTAL 900"))
		Expect(result.Confidence).To(Equal(93.0))
		Expect(result.Source).To(Equal(models.SourceOpenAI))
		Expect(result.CostUnits).To(Equal(4.0))

		messages := request["messages"].([]any)
		user := messages[1].(map[string]any)
		parts := user["content"].([]any)
		image := parts[1].(map[string]any)["image_url"].(map[string]any)
		Expect(image["url"]).To(HavePrefix("data:image/png;base64,"))
	})

	It("tolerates fenced replies and a missing confidence", func() {
		reply = "```json\n{\"text\": \"hello\"}\n```"
		result, err := newBackend("sk-test").Recognize(context.Background(), models.NewDocument("r.png", pngBytes(2, 2)))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Confidence).To(Equal(90.0))
	})

	It("classifies an exhausted quota", func() {
		status = http.StatusTooManyRequests
		_, err := newBackend("sk-test").Recognize(context.Background(), models.NewDocument("r.png", pngBytes(2, 2)))

		var be *models.BackendError
		Expect(errors.As(err, &be)).To(BeTrue())
		Expect(be.Category).To(Equal(models.FailureQuota))
	})

	It("rejects a reply that is not a transcription", func() {
		reply = "I cannot read this image."
		_, err := newBackend("sk-test").Recognize(context.Background(), models.NewDocument("r.png", pngBytes(2, 2)))

		var be *models.BackendError
		Expect(errors.As(err, &be)).To(BeTrue())
		Expect(be.Category).To(Equal(models.FailureDecode))
	})
})

type fakeGenerator struct {
	parts []genai.Part
	resp  *genai.GenerateContentResponse
	err   error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

var _ = Describe("Gemini", func() {
	It("sends image blobs and parses the json reply", func() {
		gen := &fakeGenerator{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"text": "INVOICE 42", "confidence": 88}`)}},
		}}}}
		backend := NewGeminiWithModel(gen, &GeminiConfig{CostPerPage: 2}, nil, nopLogger())

		result, err := backend.Recognize(context.Background(), models.NewDocument("r.jpg", []byte{0xff, 0xd8}))
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Text).To(Equal("INVOICE 42"))
		Expect(result.Confidence).To(Equal(88.0))
		Expect(result.Source).To(Equal(models.SourceGemini))
		Expect(gen.parts[0]).To(Equal(genai.Blob{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}))
	})

	It("treats an empty candidate list as a decode failure", func() {
		backend := NewGeminiWithModel(&fakeGenerator{resp: &genai.GenerateContentResponse{}}, &GeminiConfig{}, nil, nopLogger())
		_, err := backend.Recognize(context.Background(), models.NewDocument("r.jpg", []byte{0xff, 0xd8}))

		var be *models.BackendError
		Expect(errors.As(err, &be)).To(BeTrue())
		Expect(be.Category).To(Equal(models.FailureDecode))
	})
})
