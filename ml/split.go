package ml

import (
	"math"
	"math/rand"
	"sort"

	"github.com/rotisserie/eris"
)

// StratifiedSplit partitions sample indices so each class keeps its share in both parts.
func StratifiedSplit(y []int, testRatio float64, seed int64) ([]int, []int, error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, eris.Errorf("test ratio must be in (0,1), got %g", testRatio)
	}
	n := len(y)
	classes := indicesByClass(y)
	for c, idx := range classes {
		if len(idx) < 2 {
			return nil, nil, eris.Errorf("class %d has %d samples, need at least 2 to stratify", c, len(idx))
		}
	}

	nTest := int(math.Ceil(testRatio * float64(n)))
	nTrain := n - nTest
	if nTest < len(classes) || nTrain < len(classes) {
		return nil, nil, eris.Errorf("cannot split %d samples into %d train and %d test with %d classes", n, nTrain, nTest, len(classes))
	}

	counts := make([]int, len(classes))
	for c, idx := range classes {
		counts[c] = len(idx)
	}
	testCounts := allocate(counts, nTest)

	rng := rand.New(rand.NewSource(seed))
	var train, test []int
	for c, idx := range classes {
		shuffled := append([]int(nil), idx...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		test = append(test, shuffled[:testCounts[c]]...)
		train = append(train, shuffled[testCounts[c]:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// StratifiedKFold deals each class round-robin over k folds and returns the held-out indices per fold.
func StratifiedKFold(y []int, k int, seed int64) ([][]int, error) {
	if k < 2 {
		return nil, eris.Errorf("need at least 2 folds, got %d", k)
	}
	if len(y) < k {
		return nil, eris.Errorf("cannot make %d folds from %d samples", k, len(y))
	}
	rng := rand.New(rand.NewSource(seed))
	folds := make([][]int, k)
	offset := 0
	for _, idx := range indicesByClass(y) {
		shuffled := append([]int(nil), idx...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		for i, sample := range shuffled {
			f := (offset + i) % k
			folds[f] = append(folds[f], sample)
		}
		offset += len(shuffled)
	}
	for _, fold := range folds {
		sort.Ints(fold)
	}
	return folds, nil
}

func indicesByClass(y []int) [][]int {
	var classes [2][]int
	for i, label := range y {
		classes[label] = append(classes[label], i)
	}
	out := make([][]int, 0, 2)
	for _, idx := range classes {
		if len(idx) > 0 {
			out = append(out, idx)
		}
	}
	return out
}

// allocate splits total proportionally to counts, handing leftovers to the largest remainders.
func allocate(counts []int, total int) []int {
	sum := 0
	for _, c := range counts {
		sum += c
	}
	out := make([]int, len(counts))
	remainders := make([]float64, len(counts))
	assigned := 0
	for i, c := range counts {
		exact := float64(c) * float64(total) / float64(sum)
		out[i] = int(math.Floor(exact))
		remainders[i] = exact - float64(out[i])
		assigned += out[i]
	}
	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return remainders[order[a]] > remainders[order[b]] })
	for k := 0; assigned < total; k++ {
		i := order[k%len(order)]
		if out[i] < counts[i] {
			out[i]++
			assigned++
		}
	}
	return out
}

func subset(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for k, i := range idx {
		out[k] = y[i]
	}
	return out
}

func complement(n int, idx []int) []int {
	skip := make([]bool, n)
	for _, i := range idx {
		skip[i] = true
	}
	out := make([]int, 0, n-len(idx))
	for i := 0; i < n; i++ {
		if !skip[i] {
			out = append(out, i)
		}
	}
	return out
}
