package pickle_test

import (
	"fmt"
	"testing"

	"github.com/pcksafe/pcksafe/pickle"
)

func listConfig() *pickle.Dict {
	members := pickle.NewDict()
	for i := 0; i < 2000; i++ {
		_ = members.Set(fmt.Sprintf("member%d@example.com", i), int64(0))
	}
	return pickle.DictOf(
		"real_name", "Solar",
		"advertised", true,
		"archive_private", int64(0),
		"subscribe_policy", int64(1),
		"owner", []interface{}{"admin@example.com"},
		"members", members,
		"topics", []interface{}{pickle.Tuple{"planets", "mercury|venus", "", false}},
		"bounce_info", pickle.DictOf("member1@example.com", &pickle.Instance{
			Class: pickle.Class{Module: "Mailman.Bouncer", Name: "_BounceInfo"},
			Args:  pickle.Tuple{},
			State: pickle.DictOf("score", 2.5, "noticesleft", int64(3)),
		}),
	)
}

func BenchmarkMarshalListConfig(b *testing.B) {
	v := listConfig()
	enc := &pickle.Encoder{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := enc.Marshal(v)
		if err != nil {
			b.FailNow()
		}
	}
}

func BenchmarkUnmarshalListConfig(b *testing.B) {
	data, err := (&pickle.Encoder{}).Marshal(listConfig())
	if err != nil {
		b.Fatal(err)
	}
	p, err := pickle.NewPolicy(pickle.DefaultAllowList()...)
	if err != nil {
		b.Fatal(err)
	}
	dec := pickle.NewDecoder(p)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := dec.Unmarshal(data)
		if err != nil {
			b.FailNow()
		}
	}
}

func BenchmarkSanitizeAndSelect(b *testing.B) {
	data, err := (&pickle.Encoder{}).Marshal(listConfig())
	if err != nil {
		b.Fatal(err)
	}
	p, _ := pickle.NewPolicy(pickle.DefaultAllowList()...)
	dec := pickle.NewDecoder(p)
	keys := []string{"advertised", "archive_private", "subscribe_policy", "owner"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v, err := dec.Unmarshal(data)
		if err != nil {
			b.FailNow()
		}
		if _, err := pickle.Select(pickle.Sanitize(v), keys); err != nil {
			b.FailNow()
		}
	}
}
