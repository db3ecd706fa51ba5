package pipeline

import "time"

// jokes rotate daily so repeated requests within a day get the same answer.
var jokes = []string{
	"¿Qué le dice un semáforo a otro? No me mires, que me estoy cambiando.",
	"¿Cómo se despiden los químicos? Ácido un placer.",
	"¿Qué hace una abeja en el gimnasio? Zum-ba.",
	"¿Por qué las focas del circo miran siempre hacia arriba? Porque es donde están los focos.",
	"¿Qué le dice una iguana a su hermana gemela? Somos iguanitas.",
	"¿Cuál es el café más peligroso del mundo? El ex-preso.",
	"¿Qué hace un perro con un taladro? Taladrando.",
}

func jokeForDay(t time.Time) string {
	return jokes[t.YearDay()%len(jokes)]
}
