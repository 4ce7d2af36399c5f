package board

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

const tokenSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">
<circle cx="50" cy="50" r="38" fill="%s" stroke="%s" stroke-width="6"/>
</svg>`

type tokenKey struct {
	white bool
	size  int
}

// tokenCache rasterizes the disc drawn under each piece letter.
type tokenCache struct {
	mu     sync.RWMutex
	images map[tokenKey]image.Image
}

func newTokenCache() *tokenCache {
	return &tokenCache{images: make(map[tokenKey]image.Image)}
}

func (c *tokenCache) get(white bool, size int) (image.Image, error) {
	key := tokenKey{white: white, size: size}
	c.mu.RLock()
	if img, ok := c.images[key]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	fill, stroke := "#202020", "#f0f0e8"
	if white {
		fill, stroke = "#f8f8f0", "#202020"
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader([]byte(fmt.Sprintf(tokenSVG, fill, stroke))))
	if err != nil {
		return nil, fmt.Errorf("parse token svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	c.mu.Lock()
	c.images[key] = img
	c.mu.Unlock()
	return img, nil
}
