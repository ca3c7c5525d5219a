package mock

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// Purchase is a content access grant.
type Purchase struct {
	SHA1         string   `json:"sha1"`
	Ext          string   `json:"ext"`
	Token        string   `json:"token"`
	SessionToken string   `json:"sessionToken"`
	Life         int      `json:"life"`
	Referrer     []string `json:"referrer"`
	IP           string   `json:"ip"`
}

const defaultPurchaseLife = 21600

func (s *Server) contentDetail(c *gin.Context) {
	var req struct {
		SHA1 string `json:"sha1"`
	}
	_ = c.ShouldBindJSON(&req)
	c.JSON(http.StatusOK, gin.H{
		"sha1":   req.SHA1,
		"exists": req.SHA1 == ContentSHA1,
		"count":  2,
		"map": gin.H{
			"prism1": gin.H{"exists": true, "count": 1, "map": gin.H{"store1": true, "store2": false}},
			"prism2": gin.H{"exists": true, "count": 1, "map": gin.H{"store3": true, "store4": false}},
		},
	})
}

func (s *Server) contentUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		fail(c, "Invalid upload: "+err.Error())
		return
	}

	data := make(map[string]string, len(form.Value))
	for k, v := range form.Value {
		if len(v) > 0 {
			data[k] = v[0]
		}
	}

	files := make(map[string]gin.H, len(form.File))
	for key, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			fail(c, "Invalid upload: "+err.Error())
			return
		}
		h := sha1.New() //nolint:gosec
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			fail(c, "Invalid upload: "+err.Error())
			return
		}
		files[key] = gin.H{
			"key":  key,
			"name": fh.Filename,
			"ext":  strings.TrimPrefix(path.Ext(fh.Filename), "."),
			"size": fh.Size,
			"sha1": hex.EncodeToString(h.Sum(nil)),
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": "File(s) uploaded", "data": data, "files": files})
}

func (s *Server) contentRetrieve(c *gin.Context) {
	var req struct {
		Request struct {
			URL string `json:"url"`
		} `json:"request"`
		Extension string `json:"extension"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Request.URL == "" {
		fail(c, "No URL passed for retrieval")
		return
	}
	sum := sha1.Sum([]byte(req.Request.URL)) //nolint:gosec
	c.JSON(http.StatusOK, gin.H{
		"sha1":      hex.EncodeToString(sum[:]),
		"extension": req.Extension,
	})
}

func (s *Server) contentPurchase(c *gin.Context) {
	var req struct {
		SHA1     string   `json:"sha1"`
		Ext      string   `json:"ext"`
		Referrer []string `json:"referrer"`
		Life     int      `json:"life"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.SHA1 == "" {
		fail(c, "No SHA1 passed for purchase")
		return
	}

	p := Purchase{
		SHA1:         req.SHA1,
		Ext:          req.Ext,
		Token:        randomToken(64),
		SessionToken: currentSession(c).Token,
		Life:         req.Life,
		Referrer:     req.Referrer,
		IP:           c.ClientIP(),
	}
	if p.Life == 0 {
		p.Life = defaultPurchaseLife
	}
	if len(p.Referrer) == 0 {
		p.Referrer = []string{"localhost"}
	}

	s.mu.Lock()
	s.purchases[p.Token] = p
	s.mu.Unlock()
	c.JSON(http.StatusOK, p)
}

func (s *Server) contentPurchaseRemove(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	_, ok := s.purchases[req.Token]
	delete(s.purchases, req.Token)
	s.mu.Unlock()

	count := 0
	if ok {
		count = 1
	}
	c.JSON(http.StatusOK, gin.H{"token": req.Token, "count": count, "success": "Purchase removed"})
}

// Purchases returns the number of live purchases.
func (s *Server) Purchases() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.purchases)
}
