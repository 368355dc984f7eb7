package evaluator

import (
	"math"

	"github.com/nasopt/dynas/internal/supernet"
)

// Cost is the static compute and weight count of an architecture
type Cost struct {
	MACs   int64
	Params int64
}

// conv adds a k×k convolution over an h×h input and returns the output size
func (c *Cost) conv(h, cin, cout, k, stride, groups int) int {
	out := (h + stride - 1) / stride
	w := int64(k*k) * int64(cin/groups) * int64(cout)
	c.Params += w
	c.MACs += w * int64(out) * int64(out)
	return out
}

// linear adds a dense projection applied to tokens positions
func (c *Cost) linear(in, out, tokens int) {
	w := int64(in) * int64(out)
	c.Params += w
	c.MACs += w * int64(tokens)
}

// makeDivisible rounds v to the nearest multiple of divisor without going
// more than 10% below v.
func makeDivisible(v float64, divisor int) int {
	n := int(v+float64(divisor)/2) / divisor * divisor
	if n < divisor {
		n = divisor
	}
	if float64(n) < 0.9*v {
		n += divisor
	}
	return n
}

// Sequence lengths used for transformer cost estimates
const (
	transformerSrcLen  = 30
	transformerTgtLen  = 30
	transformerHeadDim = 64
	imageNetClasses    = 1000
)

// analyticCost counts MACs and params for the built-in families. ok is false
// for families without a rule.
func analyticCost(space *supernet.SearchSpace, cfg supernet.ArchConfig) (Cost, bool) {
	switch space.Family {
	case supernet.FamilyOFAMobileNetV3:
		return mobileNetV3Cost(cfg, space.WidthMult, space.Resolution), true
	case supernet.FamilyOFAProxyless:
		return proxylessCost(cfg, space.WidthMult, space.Resolution), true
	case supernet.FamilyOFAResNet50:
		return resNet50Cost(cfg, space.Resolution), true
	case supernet.FamilyTransformer:
		return transformerCost(cfg), true
	default:
		return Cost{}, false
	}
}

func scaled(base []int, width float64) []int {
	out := make([]int, len(base))
	for i, b := range base {
		out[i] = makeDivisible(float64(b)*width, 8)
	}
	return out
}

// mbConv adds an inverted residual block and returns the output size
func (c *Cost) mbConv(h, in, out, k int, expand float64, stride int, se bool) int {
	mid := in
	if expand != 1 {
		mid = makeDivisible(float64(in)*expand, 8)
		c.conv(h, in, mid, 1, 1, 1)
	}
	h = c.conv(h, mid, mid, k, stride, mid)
	if se {
		r := makeDivisible(float64(mid)/4, 8)
		c.linear(mid, r, 1)
		c.linear(r, mid, 1)
	}
	c.conv(h, mid, out, 1, 1, 1)
	return h
}

// elasticStages runs the 5 stage x 4 block elastic body shared by the OFA
// MobileNetV3 and ProxylessNAS families.
func (c *Cost) elasticStages(h, in int, widths []int, strides []int, se []bool, cfg supernet.ArchConfig) (int, int) {
	d, ks, e := cfg["d"], cfg["ks"], cfg["e"]
	for stage := 0; stage < 5; stage++ {
		out := widths[stage]
		for j := 0; j < int(d[stage]); j++ {
			idx := stage*4 + j
			stride := 1
			if j == 0 {
				stride = strides[stage]
			}
			h = c.mbConv(h, in, out, int(ks[idx]), e[idx], stride, se[stage])
			in = out
		}
	}
	return h, in
}

func mobileNetV3Cost(cfg supernet.ArchConfig, width float64, res int) Cost {
	w := scaled([]int{16, 24, 40, 80, 112, 160, 960, 1280}, width)
	var c Cost
	h := c.conv(res, 3, w[0], 3, 2, 1)
	h = c.mbConv(h, w[0], w[0], 3, 1, 1, false)
	h, in := c.elasticStages(h, w[0], w[1:6],
		[]int{2, 2, 2, 1, 2},
		[]bool{false, true, false, true, true}, cfg)
	c.conv(h, in, w[6], 1, 1, 1)
	c.conv(1, w[6], w[7], 1, 1, 1)
	c.linear(w[7], imageNetClasses, 1)
	return c
}

func proxylessCost(cfg supernet.ArchConfig, width float64, res int) Cost {
	w := scaled([]int{32, 16, 24, 40, 80, 96, 192, 320, 1280}, width)
	var c Cost
	h := c.conv(res, 3, w[0], 3, 2, 1)
	h = c.mbConv(h, w[0], w[1], 3, 1, 1, false)
	h, in := c.elasticStages(h, w[1], w[2:7],
		[]int{2, 2, 2, 1, 2},
		[]bool{false, false, false, false, false}, cfg)
	h = c.mbConv(h, in, w[7], 3, 6, 1, false)
	c.conv(h, w[7], w[8], 1, 1, 1)
	c.linear(w[8], imageNetClasses, 1)
	return c
}

// resNet50Cost counts the elastic bottleneck ResNet50. d[0] toggles the middle
// stem conv, d[1:] add blocks to the base depths, w indexes width multipliers.
func resNet50Cost(cfg supernet.ArchConfig, res int) Cost {
	d, e, w := cfg["d"], cfg["e"], cfg["w"]
	mults := []float64{0.65, 0.8, 1.0}
	baseDepth := []int{2, 2, 4, 2}
	maxDepth := []int{4, 4, 6, 4}
	stageOut := []int{256, 512, 1024, 2048}
	strides := []int{1, 2, 2, 2}

	var c Cost
	stemMid := makeDivisible(64*mults[int(w[0])], 8)
	stemOut := makeDivisible(64*mults[int(w[1])], 8)
	h := c.conv(res, 3, stemMid, 3, 2, 1)
	if d[0] > 0 {
		c.conv(h, stemMid, stemMid, 3, 1, 1)
	}
	c.conv(h, stemMid, stemOut, 3, 1, 1)
	h = (h + 1) / 2 // max pool

	in := stemOut
	offset := 0
	for stage := 0; stage < 4; stage++ {
		out := makeDivisible(float64(stageOut[stage])*mults[int(w[stage+2])], 8)
		depth := baseDepth[stage] + int(d[stage+1])
		for j := 0; j < depth; j++ {
			stride := 1
			if j == 0 {
				stride = strides[stage]
			}
			mid := makeDivisible(math.Round(float64(out)*e[offset+j]), 8)
			c.conv(h, in, mid, 1, 1, 1)
			hOut := c.conv(h, mid, mid, 3, stride, 1)
			c.conv(hOut, mid, out, 1, 1, 1)
			if in != out || stride != 1 {
				c.conv(hOut, in, out, 1, 1, 1)
			}
			h, in = hOut, out
		}
		offset += maxDepth[stage]
	}
	c.linear(in, imageNetClasses, 1)
	return c
}

// transformerCost counts per-sentence MACs for the encoder-decoder stack.
// Embedding lookups and the vocabulary projection are excluded.
func transformerCost(cfg supernet.ArchConfig) Cost {
	encE := int(cfg["encoder_embed_dim"][0])
	decE := int(cfg["decoder_embed_dim"][0])
	encFFN := cfg["encoder_ffn_embed_dim"]
	decFFN := cfg["decoder_ffn_embed_dim"]
	encHeads := cfg["encoder_self_attention_heads"]
	decHeads := cfg["decoder_self_attention_heads"]
	endeHeads := cfg["decoder_ende_attention_heads"]
	arbitrary := cfg["decoder_arbitrary_ende_attn"]
	layers := int(cfg["decoder_layer_num"][0])

	var c Cost
	attention := func(qDim, kvDim, heads, qLen, kvLen, kvSources int) {
		qkv := heads * transformerHeadDim
		c.linear(qDim, qkv, qLen)
		for i := 0; i < kvSources; i++ {
			c.linear(kvDim, qkv, kvLen)
			c.linear(kvDim, qkv, kvLen)
		}
		c.MACs += 2 * int64(qLen) * int64(kvLen*kvSources) * int64(qkv)
		c.linear(qkv, qDim, qLen)
	}

	for l := 0; l < len(encFFN); l++ {
		attention(encE, encE, int(encHeads[l]), transformerSrcLen, transformerSrcLen, 1)
		c.linear(encE, int(encFFN[l]), transformerSrcLen)
		c.linear(int(encFFN[l]), encE, transformerSrcLen)
	}

	for l := 0; l < layers; l++ {
		attention(decE, decE, int(decHeads[l]), transformerTgtLen, transformerTgtLen, 1)
		// -1 attends to the last encoder layer, 1 to the last two, 2 to the last three
		sources := 1
		if arbitrary[l] > 0 {
			sources = int(arbitrary[l]) + 1
		}
		attention(decE, encE, int(endeHeads[l]), transformerTgtLen, transformerSrcLen, sources)
		c.linear(decE, int(decFFN[l]), transformerTgtLen)
		c.linear(int(decFFN[l]), decE, transformerTgtLen)
	}
	return c
}
