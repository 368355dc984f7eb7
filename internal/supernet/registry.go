package supernet

import (
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]func() *SearchSpace{
		"ofa_mbv3_d234_e346_k357_w1.0":      func() *SearchSpace { return ofaMobileNet("ofa_mbv3_d234_e346_k357_w1.0", FamilyOFAMobileNetV3, 1.0) },
		"ofa_mbv3_d234_e346_k357_w1.2":      func() *SearchSpace { return ofaMobileNet("ofa_mbv3_d234_e346_k357_w1.2", FamilyOFAMobileNetV3, 1.2) },
		"ofa_proxyless_d234_e346_k357_w1.3": func() *SearchSpace { return ofaMobileNet("ofa_proxyless_d234_e346_k357_w1.3", FamilyOFAProxyless, 1.3) },
		"ofa_resnet50":                      ofaResNet50,
		"transformer_lt_wmt_en_de":          transformerLT,
	}
)

// Lookup returns the search space registered under name
func Lookup(name string) (*SearchSpace, error) {
	registryMu.RLock()
	build, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownSupernetError{Name: name}
	}
	return build(), nil
}

// Register adds a custom search space. An existing name is replaced.
func Register(space *SearchSpace) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[space.Name] = func() *SearchSpace { return space }
}

// Names lists the registered supernets in sorted order
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ofaMobileNet is the 5 stage x 4 block elastic space shared by the
// MobileNetV3 and ProxylessNAS supernets.
func ofaMobileNet(name string, family Family, width float64) *SearchSpace {
	s := mustSpace(name, family,
		Param{Name: "ks", Count: 20, Values: []float64{3, 5, 7}, GovernedBy: "d"},
		Param{Name: "e", Count: 20, Values: []float64{3, 4, 6}, GovernedBy: "d"},
		Param{Name: "d", Count: 5, Values: []float64{2, 3, 4}},
	)
	s.WidthMult = width
	return s
}

func ofaResNet50() *SearchSpace {
	return mustSpace("ofa_resnet50", FamilyOFAResNet50,
		Param{Name: "d", Count: 5, Values: []float64{0, 1, 2}},
		Param{Name: "e", Count: 18, Values: []float64{0.2, 0.25, 0.35}},
		Param{Name: "w", Count: 6, Values: []float64{0, 1, 2}},
	)
}

func transformerLT() *SearchSpace {
	embed := []float64{640, 512}
	ffn := []float64{3072, 2048, 1024}
	heads := []float64{8, 4}
	return mustSpace("transformer_lt_wmt_en_de", FamilyTransformer,
		Param{Name: "encoder_embed_dim", Count: 1, Values: embed},
		Param{Name: "decoder_embed_dim", Count: 1, Values: embed},
		Param{Name: "encoder_ffn_embed_dim", Count: 6, Values: ffn},
		Param{Name: "decoder_ffn_embed_dim", Count: 6, Values: ffn, GovernedBy: "decoder_layer_num"},
		Param{Name: "decoder_layer_num", Count: 1, Values: []float64{6, 5, 4, 3, 2, 1}},
		Param{Name: "encoder_self_attention_heads", Count: 6, Values: heads},
		Param{Name: "decoder_self_attention_heads", Count: 6, Values: heads, GovernedBy: "decoder_layer_num"},
		Param{Name: "decoder_ende_attention_heads", Count: 6, Values: heads, GovernedBy: "decoder_layer_num"},
		Param{Name: "decoder_arbitrary_ende_attn", Count: 6, Values: []float64{-1, 1, 2}, GovernedBy: "decoder_layer_num"},
	)
}

func mustSpace(name string, family Family, params ...Param) *SearchSpace {
	s, err := NewSearchSpace(name, family, params...)
	if err != nil {
		panic(err)
	}
	return s
}
